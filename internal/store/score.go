package store

import (
	"math"
	"time"
)

// Score computes the decayed-recency ordering value for a group:
// floor(ln(count)*600 + unix_seconds(lastSeen)). A count of one scores
// exactly the sighting time (ln(1) = 0, and underflow is avoided for
// degenerate counts below one).
func Score(count int64, lastSeen time.Time) int64 {
	if count <= 1 {
		return lastSeen.Unix()
	}
	return int64(math.Floor(math.Log(float64(count))*600 + float64(lastSeen.Unix())))
}
