package substore

import "time"

// timeNowUnixMilli is indirected so tests can pass an explicit nowFn to
// New instead of depending on the wall clock.
var timeNowUnixMilli = defaultNowUnixMilli

func defaultNowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
