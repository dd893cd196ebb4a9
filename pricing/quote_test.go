package pricing_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hotel-core/cache"
	"github.com/warp/hotel-core/pricing"
)

func TestSavePlan_NewPlanWithCallerIDStartsActive(t *testing.T) {
	// GIVEN a new plan with its own id and isActive left unset
	e := newEnv(t)
	p := barPlan()
	p.IsActive = false

	// WHEN
	saved, err := e.engine.SavePlan(context.Background(), p)

	// THEN it is created active and quotable
	require.NoError(t, err)
	assert.True(t, saved.IsActive)
	q, err := e.engine.BestRate(context.Background(), stay(jan10, jan12))
	require.NoError(t, err)
	assert.Equal(t, saved.ID, q.PlanID)

	// WHEN the stored plan is replaced as inactive
	saved.IsActive = false
	replaced, err := e.engine.SavePlan(context.Background(), saved)

	// THEN the replacement keeps the caller's value
	require.NoError(t, err)
	assert.False(t, replaced.IsActive)
	assert.Equal(t, saved.CreatedAt, replaced.CreatedAt)
}

// failingSets misses every read and refuses every write.
type failingSets struct{ cache.Noop }

func (failingSets) Set(context.Context, string, any, int) error {
	return errors.New("cache unavailable")
}

func TestCachedQuoter_CacheWriteFailureIsLogged(t *testing.T) {
	e := newEnv(t)
	e.savePlan(t, barPlan())
	logs := &bytes.Buffer{}
	q := pricing.NewCachedQuoter(e.engine, failingSets{}, 300)
	q.Log = zerolog.New(logs).Level(zerolog.DebugLevel)

	best, err := q.BestRate(context.Background(), stay(jan10, jan12))
	require.NoError(t, err)
	assert.True(t, best.TotalAmount.Equal(d(1800)))

	_, err = q.AllRates(context.Background(), stay(jan10, jan12))
	require.NoError(t, err)

	assert.Equal(t, 2, bytes.Count(logs.Bytes(), []byte("writing quote to cache")))
	assert.Contains(t, logs.String(), "cache unavailable")
}
