package types

import "github.com/yoon511/netplay-badminton-board-yoon/internal/roster"

// Server -> Client
//
//	StateSnapshot: version, state, selected, admin, clocks
//	Clock:         clocks (court id -> "MM:SS"), sent every second
//	Notice:        code, error (advisory for the sender only)
//	Error:         error (bad json / unknown type)
type ServerMessage struct {
	Type     string            `json:"type"`
	Version  int               `json:"version,omitempty"`
	State    *roster.Snapshot  `json:"state,omitempty"`
	Selected []int64           `json:"selected,omitempty"`
	Admin    bool              `json:"admin,omitempty"`
	Clocks   map[string]string `json:"clocks,omitempty"`
	Code     string            `json:"code,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// BoardView is the read-only HTTP view of a board.
type BoardView struct {
	Version int               `json:"version"`
	State   roster.Snapshot   `json:"state"`
	Clocks  map[string]string `json:"clocks"`
}
