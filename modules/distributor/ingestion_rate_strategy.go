package distributor

import (
	"github.com/grafana/dskit/limiter"

	"github.com/cairndb/cairn/modules/overrides"
)

// ReadLifecycler counts the healthy distributor instances sharing a global
// rate limit.
type ReadLifecycler interface {
	HealthyInstancesCount() int
}

type localStrategy struct {
	limits *overrides.Overrides
}

func newLocalIngestionRateStrategy(limits *overrides.Overrides) limiter.RateLimiterStrategy {
	return &localStrategy{
		limits: limits,
	}
}

func (s *localStrategy) Limit(userID string) float64 {
	return s.limits.IngestionRateLimitBytes(userID)
}

func (s *localStrategy) Burst(userID string) int {
	return s.limits.IngestionBurstSizeBytes(userID)
}

type globalStrategy struct {
	limits *overrides.Overrides
	ring   ReadLifecycler
}

func newGlobalIngestionRateStrategy(limits *overrides.Overrides, ring ReadLifecycler) limiter.RateLimiterStrategy {
	return &globalStrategy{
		limits: limits,
		ring:   ring,
	}
}

func (s *globalStrategy) Limit(userID string) float64 {
	if numDistributors := s.ring.HealthyInstancesCount(); numDistributors > 0 {
		return s.limits.IngestionRateLimitBytes(userID) / float64(numDistributors)
	}

	return s.limits.IngestionRateLimitBytes(userID)
}

func (s *globalStrategy) Burst(userID string) int {
	// The meaning of burst doesn't change for the global strategy, in order
	// to keep it easier to understand for users / operators.
	return s.limits.IngestionBurstSizeBytes(userID)
}

// singleInstance is the ReadLifecycler of a single binary deployment, the
// global strategy degenerates to the local one.
type singleInstance struct{}

func (singleInstance) HealthyInstancesCount() int { return 1 }
