package modelcache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marqocore/vespacore/pkg/vectoriser"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLoadModel_SecondCallDoesNotReload(t *testing.T) {
	c := newCache(t)
	var loads int64

	loader := func() (vectoriser.Vectoriser, error) {
		atomic.AddInt64(&loads, 1)
		return vectoriser.NewHTTPVectoriser(vectoriser.DefaultConfig("clip-vit-b32", 512)), nil
	}

	v1, err := c.LoadModel("clip-vit-b32", loader)
	require.NoError(t, err)
	v2, err := c.LoadModel("clip-vit-b32", loader)
	require.NoError(t, err)

	require.Same(t, v1, v2)
	require.EqualValues(t, 1, atomic.LoadInt64(&loads))
}

func TestLoadModel_ConcurrentCallsSerializeToOneLoad(t *testing.T) {
	c := newCache(t)
	var loads int64
	var wg sync.WaitGroup

	loader := func() (vectoriser.Vectoriser, error) {
		atomic.AddInt64(&loads, 1)
		time.Sleep(5 * time.Millisecond)
		return vectoriser.NewHTTPVectoriser(vectoriser.DefaultConfig("open-clip", 768)), nil
	}

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.LoadModel("open-clip", loader)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&loads))
}

func TestLoadModel_EvictForcesReload(t *testing.T) {
	c := newCache(t)
	var loads int64
	loader := func() (vectoriser.Vectoriser, error) {
		atomic.AddInt64(&loads, 1)
		return vectoriser.NewHTTPVectoriser(vectoriser.DefaultConfig("m", 4)), nil
	}

	_, err := c.LoadModel("m", loader)
	require.NoError(t, err)
	c.Evict("m")
	_, err = c.LoadModel("m", loader)
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt64(&loads))
}

func TestSessionRecord_PutGetDeleteList(t *testing.T) {
	c := newCache(t)
	rec := SessionRecord{
		SessionID:      "sess-1",
		IndexNames:     []string{"idx-a", "idx-b"},
		ContentBaseURL: "http://config:19071/content/session-1",
		PrepareURL:     "http://config:19071/prepare/session-1",
		State:          "open",
		CreatedAt:      time.Now().Truncate(time.Second),
	}
	require.NoError(t, c.PutSession(rec))

	got, err := c.GetSession("sess-1")
	require.NoError(t, err)
	require.Equal(t, rec.SessionID, got.SessionID)
	require.Equal(t, rec.IndexNames, got.IndexNames)
	require.Equal(t, rec.State, got.State)

	all, err := c.ListSessions()
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, c.DeleteSession("sess-1"))
	_, err = c.GetSession("sess-1")
	require.Error(t, err)
}
