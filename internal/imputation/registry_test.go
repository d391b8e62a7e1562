package imputation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistryConcurrentLoadsCoalesce(t *testing.T) {
	store := newTestStore(t)
	model, scaler, meta := trainedFixture(t, 4, 3)
	require.NoError(t, store.Save("PM25", model, scaler, meta))

	reg := NewRegistry(store, zaptest.NewLogger(t).Sugar())

	const goroutines = 16
	bundles := make([]*Bundle, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := reg.GetOrLoad(context.Background(), "PM25")
			assert.NoError(t, err)
			bundles[i] = b
		}(i)
	}
	wg.Wait()

	// Every caller sees the same loaded instance.
	for i := 1; i < goroutines; i++ {
		assert.Same(t, bundles[0], bundles[i])
	}
}

func TestRegistryFailedLoadNotCached(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, zaptest.NewLogger(t).Sugar())

	_, err := reg.GetOrLoad(context.Background(), "PM25")
	require.ErrorIs(t, err, ErrModelNotTrained)

	// Training after the miss becomes visible without any invalidation.
	model, scaler, meta := trainedFixture(t, 4, 3)
	require.NoError(t, store.Save("PM25", model, scaler, meta))

	bundle, err := reg.GetOrLoad(context.Background(), "PM25")
	require.NoError(t, err)
	assert.NotNil(t, bundle)
}

func TestRegistryInvalidateForcesReload(t *testing.T) {
	store := newTestStore(t)
	model, scaler, meta := trainedFixture(t, 4, 3)
	require.NoError(t, store.Save("PM25", model, scaler, meta))

	reg := NewRegistry(store, zaptest.NewLogger(t).Sugar())

	first, err := reg.GetOrLoad(context.Background(), "PM25")
	require.NoError(t, err)

	again, err := reg.GetOrLoad(context.Background(), "PM25")
	require.NoError(t, err)
	assert.Same(t, first, again)

	reg.Invalidate("PM25")
	reloaded, err := reg.GetOrLoad(context.Background(), "PM25")
	require.NoError(t, err)
	assert.NotSame(t, first, reloaded)
}

func TestRegistryHonorsContext(t *testing.T) {
	store := newTestStore(t)
	model, scaler, meta := trainedFixture(t, 4, 3)
	require.NoError(t, store.Save("PM25", model, scaler, meta))

	reg := NewRegistry(store, zaptest.NewLogger(t).Sugar())
	_, err := reg.GetOrLoad(context.Background(), "PM25")
	require.NoError(t, err)

	// A cancelled context still resolves an already-completed entry.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b, err := reg.GetOrLoad(ctx, "PM25")
	require.NoError(t, err)
	assert.NotNil(t, b)
}
