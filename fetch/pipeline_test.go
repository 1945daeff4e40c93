package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/metric"
	"github.com/c360/framevault/testutil"
)

func testVideoConfig(concurrency int) config.VideoConfig {
	return config.VideoConfig{
		MaxDuration:      config.Duration(180 * time.Second),
		FetchConcurrency: concurrency,
		FetchTimeout:     config.Duration(time.Second),
	}
}

func collect(t *testing.T, results <-chan Result) []Result {
	t.Helper()
	var out []Result
	for res := range results {
		out = append(out, res)
	}
	return out
}

func TestRun_PreservesOrderUnderRandomDelays(t *testing.T) {
	store := testutil.NewMemStore()

	var keys []string
	for i := 0; i < 40; i++ {
		key := fmt.Sprintf("yard/cam1/2024-05-06/10:00:%02d.000Z.jpg", i)
		store.Seed(key, []byte{byte(i)})
		keys = append(keys, key)
	}
	// Random per-key delay so completion order differs from submission order
	store.GetDelay = func(string) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
	}

	pipeline, err := New(store, testVideoConfig(6), nil, nil)
	require.NoError(t, err)

	results := collect(t, pipeline.Run(context.Background(), keys))
	require.Len(t, results, len(keys))

	for i, res := range results {
		require.NoError(t, res.Err)
		assert.Equal(t, keys[i], res.Key)
		assert.Equal(t, []byte{byte(i)}, res.Data)
	}
}

func TestRun_FailedFetchKeepsPosition(t *testing.T) {
	store := testutil.NewMemStore()
	keys := []string{
		"yard/cam1/2024-05-06/10:00:00.000Z.jpg",
		"yard/cam1/2024-05-06/10:00:01.000Z.jpg",
		"yard/cam1/2024-05-06/10:00:02.000Z.jpg",
	}
	for _, k := range keys {
		store.Seed(k, []byte("frame"))
	}
	store.FailKeys[keys[1]] = true

	pipeline, err := New(store, testVideoConfig(2), nil, nil)
	require.NoError(t, err)

	results := collect(t, pipeline.Run(context.Background(), keys))
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Data)
	assert.Equal(t, keys[1], results[1].Key)
	assert.NoError(t, results[2].Err)
}

func TestRun_ConcurrencyBound(t *testing.T) {
	// The bound counts the future the deliverer holds as in flight, so the
	// serial case has to hold too.
	for _, bound := range []int{1, 3, 6} {
		t.Run(fmt.Sprintf("bound=%d", bound), func(t *testing.T) {
			store := testutil.NewMemStore()
			var keys []string
			for i := 0; i < 20; i++ {
				key := fmt.Sprintf("yard/cam1/2024-05-06/10:00:%02d.000Z.jpg", i)
				store.Seed(key, []byte("frame"))
				keys = append(keys, key)
			}

			var inFlight, peak atomic.Int32
			store.GetDelay = func(string) {
				cur := inFlight.Add(1)
				for {
					prev := peak.Load()
					if cur <= prev || peak.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
			}

			pipeline, err := New(store, testVideoConfig(bound), nil, nil)
			require.NoError(t, err)

			results := collect(t, pipeline.Run(context.Background(), keys))
			require.Len(t, results, len(keys))
			assert.LessOrEqual(t, peak.Load(), int32(bound))
		})
	}
}

func TestRun_TimeoutBecomesFailure(t *testing.T) {
	store := testutil.NewMemStore()
	key := "yard/cam1/2024-05-06/10:00:00.000Z.jpg"
	store.Seed(key, []byte("frame"))
	store.GetDelay = func(string) { time.Sleep(50 * time.Millisecond) }

	cfg := testVideoConfig(1)
	cfg.FetchTimeout = config.Duration(10 * time.Millisecond)

	pipeline, err := New(store, cfg, nil, nil)
	require.NoError(t, err)

	results := collect(t, pipeline.Run(context.Background(), []string{key}))
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestRun_ContextCancelClosesOutput(t *testing.T) {
	store := testutil.NewMemStore()
	var keys []string
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("yard/cam1/2024-05-06/10:00:%02d.000Z.jpg", i)
		store.Seed(key, []byte("frame"))
		keys = append(keys, key)
	}
	store.GetDelay = func(string) { time.Sleep(5 * time.Millisecond) }

	pipeline, err := New(store, testVideoConfig(2), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	results := pipeline.Run(ctx, keys)

	<-results // wait for the first result, then cancel mid-stream
	cancel()

	done := make(chan struct{})
	go func() {
		for range results {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("output channel not closed after cancellation")
	}
}

func TestRun_InFlightGauge(t *testing.T) {
	store := testutil.NewMemStore()
	keys := []string{
		"yard/cam1/2024-05-06/10:00:00.000Z.jpg",
		"yard/cam1/2024-05-06/10:00:01.000Z.jpg",
		"yard/cam1/2024-05-06/10:00:02.000Z.jpg",
	}
	for _, k := range keys {
		store.Seed(k, []byte("frame"))
	}

	entered := make(chan struct{}, len(keys))
	release := make(chan struct{})
	store.GetDelay = func(string) {
		entered <- struct{}{}
		<-release
	}

	pipeline, err := New(store, testVideoConfig(2), nil, nil)
	require.NoError(t, err)

	results := pipeline.Run(context.Background(), keys)

	// Two fetches admitted and parked in the store
	<-entered
	<-entered
	assert.Equal(t, 2.0, promtestutil.ToFloat64(pipeline.inFlight))

	close(release)
	collected := collect(t, results)
	require.Len(t, collected, len(keys))

	// The last goroutine decrements after its result is delivered
	assert.Eventually(t, func() bool {
		return promtestutil.ToFloat64(pipeline.inFlight) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestNew_RegistersMetrics(t *testing.T) {
	store := testutil.NewMemStore()
	registry := metric.NewMetricsRegistry()

	_, err := New(store, testVideoConfig(2), nil, registry)
	require.NoError(t, err)

	// Second pipeline against the same registry collides on metric names
	_, err = New(store, testVideoConfig(2), nil, registry)
	assert.Error(t, err)
}
