package persistence_test

import (
	"SynthVault/internal/observability"
	"SynthVault/internal/persistence"
	"SynthVault/internal/testutil"
	"SynthVault/internal/vault"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_JournalsEngineEvents(t *testing.T) {
	store := newTestStore(t)
	mv := testutil.NewMemoryVault(t)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	mv.MustMint(t, "alice", "1000")
	mv.MustMint(t, "bob", "500")
	want := mv.Engine.Sequence()

	worker := persistence.NewWorker(store, mv.Events, 2, 10*time.Millisecond, metrics)
	close(mv.Events)
	require.NoError(t, worker.Run(context.Background()))

	got, err := store.LatestSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rows, err := store.LoadEventsFrom(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, rows, int(want))
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.Sequence, "gap-free sequence")
	}
	assert.Equal(t, float64(want), promtestutil.ToFloat64(metrics.PersistEventsWritten))
	assert.Equal(t, float64(want), promtestutil.ToFloat64(metrics.PersistLastSequence))
}

// flakyStore fails the first n writes.
type flakyStore struct {
	persistence.Store
	mu    sync.Mutex
	fails int
	calls int
}

func (s *flakyStore) WriteEvents(ctx context.Context, events []persistence.EventRow) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.fails
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.Store.WriteEvents(ctx, events)
}

func TestWorker_RetriesFailedBatch(t *testing.T) {
	store := &flakyStore{Store: newTestStore(t), fails: 2}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	input := make(chan vault.Event, 1)
	input <- vault.Event{Sequence: 1, Type: vault.EventMinted, Time: testutil.WednesdayNoon}
	close(input)

	worker := persistence.NewWorker(store, input, 10, time.Millisecond, metrics)
	require.NoError(t, worker.Run(context.Background()))

	seq, err := store.LatestSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, float64(2), promtestutil.ToFloat64(metrics.PersistRetry))
}
