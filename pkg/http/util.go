package http

import (
	"time"

	xutil "QuantSync/pkg/util"
)

// ParseSince parses an absolute time or a look-back duration.
func ParseSince(s string, now time.Time) (time.Time, bool) { return xutil.ParseSince(s, now) }
