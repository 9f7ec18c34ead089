package ingester

import (
	"fmt"
	"math"

	"github.com/cairndb/cairn/modules/overrides"
)

const errMaxTracesPerUserLimitExceeded = "per-user traces limit (local: %d global: %d actual local: %d) exceeded"

// Limiter implements primitives to get the maximum number of traces
// an ingester can handle for a specific tenant
type Limiter struct {
	limits *overrides.Overrides
}

// NewLimiter makes a new limiter
func NewLimiter(limits *overrides.Overrides) *Limiter {
	return &Limiter{
		limits: limits,
	}
}

// AssertMaxTracesPerUser ensures limit has not been reached compared to the current
// number of traces in input and returns an error if so.
func (l *Limiter) AssertMaxTracesPerUser(userID string, traces int) error {
	actualLimit := l.maxTracesPerUser(userID)
	if traces < actualLimit {
		return nil
	}

	localLimit := l.limits.MaxLocalTracesPerUser(userID)
	globalLimit := l.limits.MaxGlobalTracesPerUser(userID)

	return fmt.Errorf(errMaxTracesPerUserLimitExceeded, localLimit, globalLimit, actualLimit)
}

func (l *Limiter) maxTracesPerUser(userID string) int {
	localLimit := l.limits.MaxLocalTracesPerUser(userID)

	// On a single node the global limit is simply another local limit,
	// the stricter of the two wins.
	globalLimit := l.limits.MaxGlobalTracesPerUser(userID)
	localLimit = l.minNonZero(localLimit, globalLimit)

	// If both the local and global limits are disabled, we just
	// use the largest int value
	if localLimit == 0 {
		localLimit = math.MaxInt32
	}

	return localLimit
}

func (l *Limiter) minNonZero(first, second int) int {
	if first == 0 || (second != 0 && first > second) {
		return second
	}

	return first
}
