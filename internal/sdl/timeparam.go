package sdl

import (
	"regexp"
	"strconv"
	"time"
)

// Wire form for a time bound: a relative-duration literal like "24h",
// "7d", "30m", "25s", or an absolute epoch string in seconds,
// milliseconds, microseconds, or nanoseconds.
var (
	relativeTimeRe = regexp.MustCompile(`^[0-9]+[smhd]$`)
	epochTimeRe    = regexp.MustCompile(`^[0-9]+$`)
)

// TimeParam converts an absolute instant into the epoch-millisecond wire
// string the query service expects.
func TimeParam(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DurationParam converts a relative offset into an absolute
// epoch-millisecond wire string, anchored at the current time. A zero
// duration means "now".
func DurationParam(d time.Duration) string {
	return TimeParam(time.Now().UTC().Add(-d))
}

// NormalizeTimeParam validates or converts a caller-supplied time bound
// into wire form. Accepted inputs: a relative-duration literal, an
// absolute epoch string, or an RFC 3339 timestamp (converted to epoch
// milliseconds). Anything else is a precondition error.
func NormalizeTimeParam(s string) (string, error) {
	if relativeTimeRe.MatchString(s) || epochTimeRe.MatchString(s) {
		return s, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return TimeParam(t), nil
	}
	return "", ErrPrecondition(
		"invalid time parameter %q: use a relative duration (24h, 7d, 30m, 25s), an epoch timestamp, or RFC 3339", s)
}
