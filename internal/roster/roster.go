package roster

import (
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// GroupSize is the number of players in a waiting slot and on a court.
const GroupSize = 4

// MinSlots is the smallest number of waiting slots the board ever shows.
const MinSlots = 3

// DefaultCourts is the number of courts a fresh board starts with.
const DefaultCourts = 3

type Group string

const (
	GroupA Group = "A"
	GroupB Group = "B"
	GroupC Group = "C"
	GroupD Group = "D"
	GroupE Group = "E"
)

func (g Group) Valid() bool {
	switch g {
	case GroupA, GroupB, GroupC, GroupD, GroupE:
		return true
	}
	return false
}

type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

func (s Sex) Valid() bool { return s == SexMale || s == SexFemale }

type Participant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Group     Group  `json:"group"`
	Sex       Sex    `json:"sex"`
	PlayCount int    `json:"playCount"`
}

type Court struct {
	ID           int           `json:"id"`
	Occupants    []Participant `json:"occupants"`
	SessionStart *time.Time    `json:"sessionStart,omitempty"`
}

// Snapshot is the unit mirrored to the shared store.
type Snapshot struct {
	Participants []Participant `json:"participants"`
	WaitingSlots [][]int64     `json:"waitingSlots"`
	Courts       []Court       `json:"courts"`
}

// State is a snapshot as seen by one viewer, with that viewer's selection.
type State struct {
	Snapshot  Snapshot
	Selection []int64
	Rules     Rules
}

type Rules struct {
	Courts              int
	AllowCourtOverwrite bool
}

type CommandType string

const (
	CmdRegister        CommandType = "Register"
	CmdRemove          CommandType = "Remove"
	CmdToggleSelect    CommandType = "ToggleSelect"
	CmdCommitSelection CommandType = "CommitSelection"
	CmdAssignSlot      CommandType = "AssignSlot"
	CmdClearCourt      CommandType = "ClearCourt"
	CmdReset           CommandType = "Reset"
)

// Command is one user action. Admin is filled in by the transport from the
// authorizer, never from client input.
type Command struct {
	Type          CommandType
	Admin         bool
	Name          string
	Group         Group
	Sex           Sex
	ParticipantID int64
	CourtID       int
	SlotIndex     int
	Confirmed     bool
	Now           time.Time
}

type EventType string

const (
	EvtRegistered       EventType = "Registered"
	EvtRemoved          EventType = "Removed"
	EvtSelectionChanged EventType = "SelectionChanged"
	EvtQueued           EventType = "Queued"
	EvtCourtAssigned    EventType = "CourtAssigned"
	EvtCourtCleared     EventType = "CourtCleared"
	EvtReset            EventType = "Reset"
)

type Event struct {
	Type          EventType
	ParticipantID int64
	CourtID       int
	SlotIndex     int
}

// Published reports whether the event changes the shared snapshot.
func (e Event) Published() bool { return e.Type != EvtSelectionChanged }

var ErrUnsupportedCommand = errors.New("unsupported command")

// AdvisoryError is a validation failure meant to be shown to the user.
// The attempted mutation is aborted and nothing else happens.
type AdvisoryError struct {
	Code    string
	Message string
}

func (e *AdvisoryError) Error() string { return e.Message }

var (
	ErrSelectionSize     = &AdvisoryError{Code: "selection_size", Message: "exactly 4 participants must be selected"}
	ErrQueuesFull        = &AdvisoryError{Code: "queues_full", Message: "all waiting queues are full"}
	ErrSelectionStale    = &AdvisoryError{Code: "selection_stale", Message: "selection changed on another screen, please select again"}
	ErrCourtOccupied     = &AdvisoryError{Code: "court_occupied", Message: "court is in use, clear it first"}
	ErrResetNotConfirmed = &AdvisoryError{Code: "reset_not_confirmed", Message: "reset must be confirmed"}
	ErrInvalidGroup      = &AdvisoryError{Code: "invalid_group", Message: "group must be one of A, B, C, D, E"}
	ErrInvalidSex        = &AdvisoryError{Code: "invalid_sex", Message: "sex must be male or female"}
)

// Apply runs one command against s. It never mutates s: the returned state
// shares no slices with the input. No events and a nil error means the
// command was ignored.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if cmd.Type != CmdRegister && !cmd.Admin {
		return nil, s, nil
	}
	if cmd.Now.IsZero() {
		cmd.Now = time.Now()
	}

	switch cmd.Type {
	case CmdRegister:
		return register(s, cmd)
	case CmdRemove:
		return remove(s, cmd.ParticipantID)
	case CmdToggleSelect:
		return toggleSelect(s, cmd.ParticipantID)
	case CmdCommitSelection:
		return commitSelection(s)
	case CmdAssignSlot:
		return assignSlot(s, cmd.CourtID, cmd.SlotIndex, cmd.Now)
	case CmdClearCourt:
		return clearCourt(s, cmd.CourtID)
	case CmdReset:
		if !cmd.Confirmed {
			return nil, s, ErrResetNotConfirmed
		}
		next := State{Snapshot: DefaultSnapshot(s.Rules.Courts), Rules: s.Rules}
		return []Event{{Type: EvtReset}}, next, nil
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func register(s State, cmd Command) ([]Event, State, error) {
	name := norm.NFC.String(strings.TrimSpace(cmd.Name))
	if name == "" {
		return nil, s, nil
	}
	if !cmd.Group.Valid() {
		return nil, s, ErrInvalidGroup
	}
	if !cmd.Sex.Valid() {
		return nil, s, ErrInvalidSex
	}

	next := s.clone()
	p := Participant{
		ID:    nextID(s.Snapshot.Participants, cmd.Now),
		Name:  name,
		Group: cmd.Group,
		Sex:   cmd.Sex,
	}
	next.Snapshot.Participants = append(next.Snapshot.Participants, p)
	return []Event{{Type: EvtRegistered, ParticipantID: p.ID}}, next, nil
}

func remove(s State, id int64) ([]Event, State, error) {
	if !s.Snapshot.Has(id) && !s.Snapshot.Referenced(id) && !slices.Contains(s.Selection, id) {
		return nil, s, nil
	}

	next := s.clone()
	next.Snapshot.Participants = slices.DeleteFunc(next.Snapshot.Participants, func(p Participant) bool { return p.ID == id })
	next.Selection = slices.DeleteFunc(next.Selection, func(x int64) bool { return x == id })
	// Slots are filtered in place; a slot can be left short and is not compacted.
	for i, slot := range next.Snapshot.WaitingSlots {
		next.Snapshot.WaitingSlots[i] = slices.DeleteFunc(slot, func(x int64) bool { return x == id })
	}
	// A court that loses a player keeps the rest and its clock.
	for i, c := range next.Snapshot.Courts {
		next.Snapshot.Courts[i].Occupants = slices.DeleteFunc(c.Occupants, func(p Participant) bool { return p.ID == id })
	}
	return []Event{{Type: EvtRemoved, ParticipantID: id}}, next, nil
}

func toggleSelect(s State, id int64) ([]Event, State, error) {
	i := slices.Index(s.Selection, id)
	if i < 0 && (!s.Snapshot.Available(id) || len(s.Selection) >= GroupSize) {
		return nil, s, nil
	}

	next := s.clone()
	if i >= 0 {
		next.Selection = slices.Delete(next.Selection, i, i+1)
	} else {
		next.Selection = append(next.Selection, id)
	}
	return []Event{{Type: EvtSelectionChanged, ParticipantID: id}}, next, nil
}

func commitSelection(s State) ([]Event, State, error) {
	if len(s.Selection) != GroupSize {
		return nil, s, ErrSelectionSize
	}

	target := slices.IndexFunc(s.Snapshot.WaitingSlots, func(slot []int64) bool { return len(slot) == 0 })
	if target < 0 {
		return nil, s, ErrQueuesFull
	}

	// Another viewer may have queued, assigned or removed someone since this
	// selection was made.
	for _, id := range s.Selection {
		if !s.Snapshot.Available(id) {
			return nil, s, ErrSelectionStale
		}
	}

	next := s.clone()
	next.Snapshot.WaitingSlots[target] = slices.Clone(s.Selection)
	next.Selection = nil
	next.Snapshot.WaitingSlots = Compact(next.Snapshot.WaitingSlots)
	return []Event{{Type: EvtQueued, SlotIndex: target}}, next, nil
}

func assignSlot(s State, courtID, slotIndex int, now time.Time) ([]Event, State, error) {
	if slotIndex < 0 || slotIndex >= len(s.Snapshot.WaitingSlots) {
		return nil, s, nil
	}
	slot := s.Snapshot.WaitingSlots[slotIndex]
	if len(slot) != GroupSize {
		return nil, s, nil
	}
	ci := s.Snapshot.courtIndex(courtID)
	if ci < 0 {
		return nil, s, nil
	}
	if len(s.Snapshot.Courts[ci].Occupants) > 0 && !s.Rules.AllowCourtOverwrite {
		return nil, s, ErrCourtOccupied
	}

	next := s.clone()
	occupants := make([]Participant, 0, GroupSize)
	for _, id := range slot {
		i := next.Snapshot.participantIndex(id)
		if i < 0 {
			continue
		}
		next.Snapshot.Participants[i].PlayCount++
		occupants = append(occupants, next.Snapshot.Participants[i])
	}

	start := now
	next.Snapshot.Courts[ci].Occupants = occupants
	next.Snapshot.Courts[ci].SessionStart = &start
	next.Snapshot.WaitingSlots[slotIndex] = []int64{}
	next.Snapshot.WaitingSlots = Compact(next.Snapshot.WaitingSlots)
	return []Event{{Type: EvtCourtAssigned, CourtID: courtID, SlotIndex: slotIndex}}, next, nil
}

func clearCourt(s State, courtID int) ([]Event, State, error) {
	ci := s.Snapshot.courtIndex(courtID)
	if ci < 0 {
		return nil, s, nil
	}
	next := s.clone()
	next.Snapshot.Courts[ci].Occupants = []Participant{}
	next.Snapshot.Courts[ci].SessionStart = nil
	return []Event{{Type: EvtCourtCleared, CourtID: courtID}}, next, nil
}

func nextID(existing []Participant, now time.Time) int64 {
	id := now.UnixMilli()
	for _, p := range existing {
		if p.ID >= id {
			id = p.ID + 1
		}
	}
	return id
}
