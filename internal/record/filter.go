package record

// MemberFilter is an allow-list applied to events on read.
// Events for members outside the list are dropped from results but stay in
// the underlying store. The zero value allows everyone.
type MemberFilter struct {
	allowed map[string]struct{}
}

// NewMemberFilter builds a filter admitting only the given members.
// With no members the filter admits everyone.
func NewMemberFilter(members ...string) MemberFilter {
	if len(members) == 0 {
		return MemberFilter{}
	}
	allowed := make(map[string]struct{}, len(members))
	for _, m := range members {
		allowed[normalize(m)] = struct{}{}
	}
	return MemberFilter{allowed: allowed}
}

// Allows reports whether events for member pass the filter.
func (f MemberFilter) Allows(member string) bool {
	if f.allowed == nil {
		return true
	}
	_, ok := f.allowed[member]
	return ok
}

// Apply returns the events that pass the filter, in their original order.
func (f MemberFilter) Apply(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if f.Allows(e.Member) {
			out = append(out, e)
		}
	}
	return out
}
