package mutelist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapie/snapengine/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls   atomic.Int64
	gate    chan struct{}
	entries string
	err     error
}

func (c *fakeCaller) Call(_ context.Context, method string, _ any) (json.RawMessage, error) {
	c.calls.Add(1)

	if c.gate != nil {
		<-c.gate
	}

	if c.err != nil {
		return nil, c.err
	}

	return json.RawMessage(c.entries), nil
}

const subscriberEntries = `[
	["Spammer", "muted", "", "2024-01-01 00:00:00"],
	["alice", "member", "", "2024-01-01 00:00:00"],
	["troll", "muted", "", "2024-01-02 00:00:00"]
]`

func TestGetRetainsOnlyMutedRoles(t *testing.T) {
	ctx := context.Background()

	caller := &fakeCaller{entries: subscriberEntries}
	svc := NewService(caller, kvstore.NewMemory(), "hive-139531", nil)

	set, err := svc.Get(ctx)
	require.NoError(t, err)

	assert.True(t, set.Contains("spammer"), "entries are normalized to lower case")
	assert.True(t, set.Contains("Spammer"), "lookups are case-insensitive")
	assert.True(t, set.Contains("troll"))
	assert.False(t, set.Contains("alice"))
}

func TestGetSingleFlight(t *testing.T) {
	ctx := context.Background()

	caller := &fakeCaller{entries: subscriberEntries, gate: make(chan struct{})}
	svc := NewService(caller, kvstore.NewMemory(), "hive-139531", nil)

	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := svc.Get(ctx)
			assert.NoError(t, err)
		}()
	}

	// Let all callers pile up on the cold cache before the fetch resolves.
	time.Sleep(50 * time.Millisecond)
	close(caller.gate)
	wg.Wait()

	assert.EqualValues(t, 1, caller.calls.Load(), "concurrent cold gets must share one remote fetch")
}

func TestGetHonorsTTL(t *testing.T) {
	ctx := context.Background()

	caller := &fakeCaller{entries: subscriberEntries}
	svc := NewService(caller, kvstore.NewMemory(), "hive-139531", nil)

	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	_, err := svc.Get(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, caller.calls.Load())

	current = current.Add(23 * time.Hour)

	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, caller.calls.Load(), "a fresh cache entry must not refetch")

	current = current.Add(2 * time.Hour)

	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, caller.calls.Load(), "an expired cache entry must refetch")
}

func TestGetFailsOpen(t *testing.T) {
	ctx := context.Background()

	caller := &fakeCaller{err: errors.New("node down")}
	svc := NewService(caller, kvstore.NewMemory(), "hive-139531", nil)

	// Availability over strictness: a broken mute source admits everyone
	// rather than blocking the feed. Intentional trade-off.
	set, err := svc.Get(ctx)
	require.Error(t, err)
	assert.Empty(t, set)

	assert.False(t, svc.IsMuted(ctx, "spammer"))

	// The failure is not cached: the next call retries the remote source.
	_, _ = svc.Get(ctx)
	assert.EqualValues(t, 3, caller.calls.Load())
}

func TestGetReadsDurableSnapshot(t *testing.T) {
	ctx := context.Background()

	store := kvstore.NewMemory()

	caller := &fakeCaller{entries: subscriberEntries}
	svc := NewService(caller, store, "hive-139531", nil)

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	// A second service over the same durable store answers from the
	// persisted blob without touching the network.
	revived := NewService(&fakeCaller{err: errors.New("unreachable")}, store, "hive-139531", nil)

	set, err := revived.Get(ctx)
	require.NoError(t, err)
	assert.True(t, set.Contains("spammer"))
}

func TestInvalidateDropsBothLayers(t *testing.T) {
	ctx := context.Background()

	store := kvstore.NewMemory()
	caller := &fakeCaller{entries: subscriberEntries}
	svc := NewService(caller, store, "hive-139531", nil)

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	svc.Invalidate(ctx)

	_, ok, err := store.Get(ctx, storageKey)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, caller.calls.Load())
}
