package testutil

import (
	"io"
	"log/slog"

	"github.com/roach88/famcal/internal/record"
)

// DiscardLogger returns a logger that drops everything.
// Suppresses log output in tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SampleEvent returns the event used across tests when one concrete,
// allow-listed event is needed. The ID is left empty so stores assign one.
func SampleEvent() record.Event {
	return record.Event{Date: "2025-08-05", Time: "09:00", Task: "仕事", Member: "けんじ"}
}

// HiddenEvent returns an event for a member outside the default allow-list.
func HiddenEvent() record.Event {
	return record.Event{ID: "hidden-1", Date: "2025-08-12", Time: "10:30", Task: "テニス", Member: "ゆうき"}
}
