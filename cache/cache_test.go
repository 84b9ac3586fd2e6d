package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFingerprintIsStableForEqualRequests(t *testing.T) {
	r := Request{Namespace: "llm", Capability: "claude", Model: "sonnet", Prompt: "write intro", Arguments: map[string]any{"a": 1}}
	f1, err := Fingerprint(r)
	require.NoError(t, err)
	f2, err := Fingerprint(r)
	require.NoError(t, err)
	require.Equal(t, f1, f2)
}

func TestFingerprintDiffersOnAnyField(t *testing.T) {
	base := Request{Namespace: "llm", Capability: "claude", Model: "sonnet", Prompt: "p"}
	f0, _ := Fingerprint(base)

	variants := []Request{
		{Namespace: "search", Capability: "claude", Model: "sonnet", Prompt: "p"},
		{Namespace: "llm", Capability: "gpt", Model: "sonnet", Prompt: "p"},
		{Namespace: "llm", Capability: "claude", Model: "opus", Prompt: "p"},
		{Namespace: "llm", Capability: "claude", Model: "sonnet", Prompt: "q"},
	}
	for _, v := range variants {
		fv, err := Fingerprint(v)
		require.NoError(t, err)
		require.NotEqual(t, f0, fv)
	}
}

func TestGetIsPureAndNeverComputes(t *testing.T) {
	c := New("llm", nil)
	_, ok, err := c.Get("nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetOrComputeCachesSuccessfulResult(t *testing.T) {
	c := New("llm", nil)
	var calls int32
	compute := func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"text":"hello"}`), nil
	}
	e1, err := c.GetOrCompute(context.Background(), "fp1", compute)
	require.NoError(t, err)
	e2, err := c.GetOrCompute(context.Background(), "fp1", compute)
	require.NoError(t, err)
	require.Equal(t, e1.Payload, e2.Payload)
	require.Equal(t, int32(1), calls, "second call must be served from cache, not recomputed")
}

func TestGetOrComputeErrorsAreNotCached(t *testing.T) {
	c := New("llm", nil)
	var calls int32
	compute := func(ctx context.Context) (json.RawMessage, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errBoom
		}
		return json.RawMessage(`{"text":"ok"}`), nil
	}
	_, err := c.GetOrCompute(context.Background(), "fp2", compute)
	require.Error(t, err)
	_, err = c.GetOrCompute(context.Background(), "fp2", compute)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls, "a failed compute must be retried, not cached")
}

func TestGetOrComputeSingleFlightAcrossConcurrentCallers(t *testing.T) {
	c := New("llm", nil)
	var calls int32
	start := make(chan struct{})
	compute := func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return json.RawMessage(`{"text":"shared"}`), nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]Entry, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "shared-fp", compute)
		}(i)
	}
	time.Sleep(20 * time.Millisecond) // let all goroutines reach the singleflight.Do call
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), calls, "P7: identical concurrent fingerprints compute at most once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Payload, results[i].Payload)
	}
}

func TestDiskStoreRoundTripsAndSurvivesNewCacheInstance(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStore(dir)
	c1 := New("llm", store)

	e, err := c1.GetOrCompute(context.Background(), "persisted-fp", func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"text":"durable"}`), nil
	})
	require.NoError(t, err)

	c2 := New("llm", store)
	e2, ok, err := c2.Get("persisted-fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.Payload, e2.Payload)
}

func TestDiskStorePartitionsByNamespaceAndHashPrefix(t *testing.T) {
	dir := t.TempDir()
	store := NewDiskStore(dir)
	require.NoError(t, store.Save("llm", "abcdef0123", Entry{Payload: json.RawMessage(`{}`)}))
	expected := filepath.Join(dir, "llm", "ab", "abcdef0123.json")
	_, _, err := store.Load("llm", "abcdef0123")
	require.NoError(t, err)
	require.FileExists(t, expected)
}

var errBoom = &testComputeError{"boom"}

type testComputeError struct{ msg string }

func (e *testComputeError) Error() string { return e.msg }
