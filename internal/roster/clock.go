package roster

import (
	"fmt"
	"strconv"
	"time"
)

// Elapsed formats the time a court has been in play as MM:SS. Minutes are
// not wrapped at 60.
func Elapsed(now time.Time, start *time.Time) string {
	if start == nil {
		return "00:00"
	}
	sec := int64(now.Sub(*start) / time.Second)
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// Clocks maps court id (as a string, for JSON) to its elapsed display.
func Clocks(now time.Time, courts []Court) map[string]string {
	out := make(map[string]string, len(courts))
	for _, c := range courts {
		out[strconv.Itoa(c.ID)] = Elapsed(now, c.SessionStart)
	}
	return out
}
