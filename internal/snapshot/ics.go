package snapshot

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/roach88/famcal/internal/record"
)

// ProductID identifies the calendar producer in exported feeds.
const ProductID = "-//famcal//family calendar//JA"

// PropMember carries the responsible member on each VEVENT.
const PropMember = "X-FAMCAL-MEMBER"

const floatingLayout = "20060102T150405"

// ICSOption configures EncodeICS.
type ICSOption func(*icsConfig)

type icsConfig struct {
	loc      *time.Location
	duration time.Duration
}

// WithLocation anchors event times in loc. By default times are written as
// floating local times.
func WithLocation(loc *time.Location) ICSOption {
	return func(c *icsConfig) {
		c.loc = loc
	}
}

// WithDuration gives every event a DTEND d after its start.
func WithDuration(d time.Duration) ICSOption {
	return func(c *icsConfig) {
		c.duration = d
	}
}

// EncodeICS writes the events of snap as an iCalendar feed. Each event
// becomes a VEVENT whose UID is the event ID and whose summary names the
// task and member.
func EncodeICS(w io.Writer, snap record.Snapshot, opts ...ICSOption) error {
	var cfg icsConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	stamp := snap.LastUpdated.UTC()
	if snap.LastUpdated.IsZero() {
		stamp = time.Now().UTC()
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, e := range record.SortEvents(snap.Events) {
		start, err := eventStart(e, cfg.loc)
		if err != nil {
			return fmt.Errorf("encode ics: event %s: %w", e.ID, err)
		}

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, e.ID)
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		setDateTime(event.Component, ical.PropDateTimeStart, start, cfg.loc)
		if cfg.duration > 0 {
			setDateTime(event.Component, ical.PropDateTimeEnd, start.Add(cfg.duration), cfg.loc)
		}
		event.Props.SetText(ical.PropSummary, fmt.Sprintf("%s (%s)", e.Task, e.Member))

		member := ical.NewProp(PropMember)
		member.SetText(e.Member)
		event.Props.Set(member)

		cal.Children = append(cal.Children, event.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode ics: %w", err)
	}
	return nil
}

func eventStart(e record.Event, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(record.DateLayout+" "+record.TimeLayout, e.Date+" "+e.Time, loc)
}

// setDateTime writes a date-time property, floating unless loc is set.
func setDateTime(comp *ical.Component, name string, t time.Time, loc *time.Location) {
	if loc != nil {
		comp.Props.SetDateTime(name, t)
		return
	}
	prop := ical.NewProp(name)
	prop.Value = t.Format(floatingLayout)
	comp.Props.Set(prop)
}
