package vectoriser

import (
	"container/list"
	"context"
	"hash/fnv"
	"strconv"
	"sync"
)

// CachedVectoriser wraps a Vectoriser with an LRU cache keyed by a fast
// hash of modality+text+content, so repeated chunks (common across
// documents sharing boilerplate) skip the round trip entirely. Adapted
// from the teacher's CachedEmbedder, generalized to the multi-modality
// Input shape and to batch calls.
type CachedVectoriser struct {
	base Vectoriser

	mu      sync.RWMutex
	cache   map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   uint64
	misses uint64
}

type vectorCacheEntry struct {
	key       string
	embedding []float32
}

// NewCachedVectoriser wraps base with an LRU cache of maxSize entries
// (0 defaults to 10000, matching the teacher's default).
func NewCachedVectoriser(base Vectoriser, maxSize int) *CachedVectoriser {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &CachedVectoriser{
		base:    base,
		cache:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func cacheKey(in Input) string {
	h := fnv.New64a()
	h.Write([]byte(in.Modality))
	h.Write([]byte{0})
	h.Write([]byte(in.Text))
	for _, f := range in.PreEncoded {
		var b [4]byte
		bits := uint32(f)
		b[0], b[1], b[2], b[3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
		h.Write(b[:])
	}
	return strconv.FormatUint(h.Sum64(), 36)
}

func (c *CachedVectoriser) lookup(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.cache[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(el)
	c.hits++
	return el.Value.(*vectorCacheEntry).embedding, true
}

func (c *CachedVectoriser) store(key string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.cache[key]; ok {
		el.Value.(*vectorCacheEntry).embedding = embedding
		c.lru.MoveToFront(el)
		return
	}
	el := c.lru.PushFront(&vectorCacheEntry{key: key, embedding: embedding})
	c.cache[key] = el
	if c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*vectorCacheEntry).key)
		}
	}
}

func (c *CachedVectoriser) Embed(ctx context.Context, in Input) ([]float32, error) {
	key := cacheKey(in)
	if v, ok := c.lookup(key); ok {
		return v, nil
	}
	v, err := c.base.Embed(ctx, in)
	if err != nil {
		return nil, err
	}
	c.store(key, v)
	return v, nil
}

// EmbedBatch serves cache hits directly and sends only the misses to
// the base Vectoriser, preserving input order.
func (c *CachedVectoriser) EmbedBatch(ctx context.Context, ins []Input) ([][]float32, error) {
	out := make([][]float32, len(ins))
	var missIdx []int
	var missIns []Input
	for i, in := range ins {
		key := cacheKey(in)
		if v, ok := c.lookup(key); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missIns = append(missIns, in)
	}
	if len(missIns) == 0 {
		return out, nil
	}
	embedded, err := c.base.EmbedBatch(ctx, missIns)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = embedded[j]
		c.store(cacheKey(missIns[j]), embedded[j])
	}
	return out, nil
}

func (c *CachedVectoriser) Dimensions() int { return c.base.Dimensions() }

func (c *CachedVectoriser) Model() string { return c.base.Model() }

func (c *CachedVectoriser) SupportsModality(m Modality) bool { return c.base.SupportsModality(m) }

// Stats reports cumulative hit/miss counters for observability.
func (c *CachedVectoriser) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
