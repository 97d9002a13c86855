package constants

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, BackoffDelay(base, 1))
	assert.Equal(t, 2*time.Second, BackoffDelay(base, 2))
	assert.Equal(t, 4*time.Second, BackoffDelay(base, 3))
	assert.Equal(t, time.Second, BackoffDelay(base, 0))
}

func TestBackoffDelay_StrictlyIncreasing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("each retry waits longer than the previous one", prop.ForAll(
		func(baseMS int64, attempt int) bool {
			base := MillisecondsToDuration(baseMS)
			return BackoffDelay(base, attempt+1) > BackoffDelay(base, attempt)
		},
		gen.Int64Range(1, 60000),
		gen.IntRange(1, 20),
	))

	properties.Property("delay doubles per attempt", prop.ForAll(
		func(baseMS int64, attempt int) bool {
			base := MillisecondsToDuration(baseMS)
			return BackoffDelay(base, attempt+1) == 2*BackoffDelay(base, attempt)
		},
		gen.Int64Range(1, 60000),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
