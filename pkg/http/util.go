package http

import (
	"time"

	xutil "TAMObserver/pkg/util"
)

// TimeRange parses a from/to pair. An empty to means now; from must not be
// after to.
func TimeRange(from, to string, now time.Time) (time.Time, time.Time, *AppError) {
	start, ok := xutil.ParseTime(from)
	if !ok {
		return time.Time{}, time.Time{}, FieldError("ERR_TIME", "from", "from must be RFC3339 or unix seconds")
	}
	end := now
	if to != "" {
		if end, ok = xutil.ParseTime(to); !ok {
			return time.Time{}, time.Time{}, FieldError("ERR_TIME", "to", "to must be RFC3339 or unix seconds")
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, FieldError("ERR_RANGE", "from", "from is after to")
	}
	return start.UTC(), end.UTC(), nil
}
