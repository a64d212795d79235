// Package ratelimit implements the per-caller write quota for prediction
// submissions.
//
// Writes are counted in fixed hour buckets: the bucket key embeds
// floor(unix/3600), so a counter naturally stops growing when its hour ends
// and the next write lands in a fresh bucket. Counters are independent per
// caller identity (agent id or human session id), never shared. The counter
// itself lives in the store, which must increment atomically.
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Window is the quota bucket span.
const Window = time.Hour

// DefaultMaxPerHour caps writes per caller per hour bucket.
const DefaultMaxPerHour = 200

// ErrLimitExceeded is returned when a caller has used up its hour bucket.
var ErrLimitExceeded = errors.New("ratelimit: write quota exceeded")

// Counter key namespaces, one per caller kind.
const (
	KindAgent = "predict"
	KindUser  = "user"
)

// Quota applies the hour-bucket write cap.
type Quota struct {
	// MaxPerHour is the maximum writes per caller per bucket.
	MaxPerHour int64
}

// NewQuota creates a quota with the given hourly cap.
func NewQuota(maxPerHour int64) *Quota {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	return &Quota{MaxPerHour: maxPerHour}
}

// BucketKey builds the counter key for a caller at the given time.
func (q *Quota) BucketKey(kind, callerID string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", kind, callerID, now.Unix()/int64(Window.Seconds()))
}

// Check validates the counter value returned by the store's atomic
// increment. The attempt has already been counted by the time Check runs,
// so rejected attempts count against the window too.
func (q *Quota) Check(count int64) error {
	if count > q.MaxPerHour {
		return fmt.Errorf("%w: maximum %d predictions per hour", ErrLimitExceeded, q.MaxPerHour)
	}
	return nil
}
