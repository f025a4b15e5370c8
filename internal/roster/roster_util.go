package roster

import (
	"slices"
)

// DefaultSnapshot is what a board shows when the store holds nothing:
// no participants, MinSlots empty slots and courts numbered 1..courts.
func DefaultSnapshot(courts int) Snapshot {
	if courts <= 0 {
		courts = DefaultCourts
	}
	s := Snapshot{
		Participants: []Participant{},
		WaitingSlots: Compact(nil),
		Courts:       make([]Court, courts),
	}
	for i := range s.Courts {
		s.Courts[i] = Court{ID: i + 1, Occupants: []Participant{}}
	}
	return s
}

func NewState(rules Rules) State {
	return State{Snapshot: DefaultSnapshot(rules.Courts), Rules: rules}
}

// Compact drops empty slots, keeping the order of the rest, then pads with
// empty slots up to MinSlots.
func Compact(slots [][]int64) [][]int64 {
	out := make([][]int64, 0, max(len(slots), MinSlots))
	for _, slot := range slots {
		if len(slot) > 0 {
			out = append(out, slot)
		}
	}
	for len(out) < MinSlots {
		out = append(out, []int64{})
	}
	return out
}

func (s Snapshot) Has(id int64) bool { return s.participantIndex(id) >= 0 }

// SlotOf returns the index of the waiting slot holding id, or -1.
func (s Snapshot) SlotOf(id int64) int {
	return slices.IndexFunc(s.WaitingSlots, func(slot []int64) bool { return slices.Contains(slot, id) })
}

// CourtOf returns the id of the court id is playing on, or 0.
func (s Snapshot) CourtOf(id int64) int {
	for _, c := range s.Courts {
		if slices.ContainsFunc(c.Occupants, func(p Participant) bool { return p.ID == id }) {
			return c.ID
		}
	}
	return 0
}

// Referenced reports whether id appears in any slot or on any court.
func (s Snapshot) Referenced(id int64) bool {
	return s.SlotOf(id) >= 0 || s.CourtOf(id) != 0
}

// Available reports whether id is registered and neither queued nor on a
// court, i.e. whether it may be selected.
func (s Snapshot) Available(id int64) bool {
	return s.Has(id) && !s.Referenced(id)
}

// PruneSelection drops ids that are no longer available.
func (s Snapshot) PruneSelection(sel []int64) []int64 {
	var out []int64
	for _, id := range sel {
		if s.Available(id) {
			out = append(out, id)
		}
	}
	return out
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Participants: slices.Clone(s.Participants),
		WaitingSlots: make([][]int64, len(s.WaitingSlots)),
		Courts:       make([]Court, len(s.Courts)),
	}
	if out.Participants == nil {
		out.Participants = []Participant{}
	}
	for i, slot := range s.WaitingSlots {
		out.WaitingSlots[i] = slices.Clone(slot)
		if out.WaitingSlots[i] == nil {
			out.WaitingSlots[i] = []int64{}
		}
	}
	for i, c := range s.Courts {
		out.Courts[i] = Court{ID: c.ID, Occupants: slices.Clone(c.Occupants)}
		if out.Courts[i].Occupants == nil {
			out.Courts[i].Occupants = []Participant{}
		}
		if c.SessionStart != nil {
			t := *c.SessionStart
			out.Courts[i].SessionStart = &t
		}
	}
	return out
}

func (s State) clone() State {
	return State{Snapshot: s.Snapshot.Clone(), Selection: slices.Clone(s.Selection), Rules: s.Rules}
}

func (s Snapshot) participantIndex(id int64) int {
	return slices.IndexFunc(s.Participants, func(p Participant) bool { return p.ID == id })
}

func (s Snapshot) courtIndex(id int) int {
	return slices.IndexFunc(s.Courts, func(c Court) bool { return c.ID == id })
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
