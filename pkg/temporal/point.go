package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

// Point identifies a moment in a resource's history: by absolute
// timestamp, version number, or commit hash. Exactly one field is set;
// the zero Point is invalid.
type Point struct {
	Time       time.Time
	Version    int64
	CommitHash string
}

func AtTime(t time.Time) Point   { return Point{Time: t} }
func AtVersion(v int64) Point    { return Point{Version: v} }
func AtCommit(hash string) Point { return Point{CommitHash: hash} }

var relativeDuration = regexp.MustCompile(`^-(\d+)([smhdw])$`)

// ParsePoint resolves a raw AS_OF argument into a Point: a relative
// duration ("-1h", "-7d", "-2w", resolved against now), a version number
// ("42"), a 64-character hex commit hash, or any timestamp dateparse
// recognizes.
func ParsePoint(raw string, now time.Time) (Point, error) {
	if raw == "" {
		return Point{}, fmt.Errorf("empty AS_OF argument")
	}
	if m := relativeDuration.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		d, err := relativeUnit(m[2], n)
		if err != nil {
			return Point{}, err
		}
		return Point{Time: now.Add(-d)}, nil
	}
	if len(raw) == 64 && isHex(raw) {
		return Point{CommitHash: raw}, nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
		return Point{Version: v}, nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return Point{}, fmt.Errorf("cannot parse AS_OF argument %q: %w", raw, err)
	}
	return Point{Time: t}, nil
}

func relativeUnit(unit string, n int) (time.Duration, error) {
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown relative duration unit %q", unit)
	}
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
