package device

import (
	"strings"
)

// Reason names why a session records. A device runs at most one session
// per reason.
type Reason int

const (
	Always Reason = iota
	Motion
	Timing
	Emergency
	Alarm
	Misc
)

// Reasons lists every reason in declaration order.
var Reasons = []Reason{Always, Motion, Timing, Emergency, Alarm, Misc}

func (r Reason) String() string {
	switch r {
	case Always:
		return "ALWAYS"
	case Motion:
		return "MOTION"
	case Timing:
		return "TIMING"
	case Emergency:
		return "EMERGENCY"
	case Alarm:
		return "ALARM"
	default:
		return "MISC"
	}
}

// ParseReason is case-insensitive. Unknown names map to Misc.
func ParseReason(s string) Reason {
	for _, r := range Reasons {
		if strings.EqualFold(s, r.String()) {
			return r
		}
	}
	return Misc
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reason) UnmarshalText(b []byte) error {
	*r = ParseReason(string(b))
	return nil
}
