// Package types is the websocket wire protocol between the board server and
// its viewers.
package types

// Client -> Server
//
//	Register:        name, group ("A".."E"), sex ("male"|"female")  (anyone)
//	Remove:          participant_id                                 (admin)
//	ToggleSelect:    participant_id                                 (admin)
//	CommitSelection: {}                                             (admin)
//	AssignSlot:      court_id, slot_index                           (admin)
//	ClearCourt:      court_id                                       (admin)
//	Reset:           confirmed (must be true)                       (admin)
//
// Admin commands from non-admin viewers are silently ignored.
type ClientMessage struct {
	Type          string `json:"type"`
	Name          string `json:"name,omitempty"`
	Group         string `json:"group,omitempty"`
	Sex           string `json:"sex,omitempty"`
	ParticipantID int64  `json:"participant_id,omitempty"`
	CourtID       int    `json:"court_id,omitempty"`
	SlotIndex     int    `json:"slot_index,omitempty"`
	Confirmed     bool   `json:"confirmed,omitempty"`
}

const (
	MsgStateSnapshot = "StateSnapshot"
	MsgClock         = "Clock"
	MsgNotice        = "Notice"
	MsgError         = "Error"
)
