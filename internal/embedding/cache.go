package embedding

import (
	"encoding/binary"
	"math"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// FusionCache is an LRU cache of fused embeddings keyed by a digest of the raw feature map.
type FusionCache struct {
	entries *lru.Cache[uint64, *cacheEntry]
}

type cacheEntry struct {
	vec  []float32
	info FuseInfo
}

// NewFusionCache creates a cache holding up to capacity fused vectors.
func NewFusionCache(capacity int) (*FusionCache, error) {
	entries, err := lru.New[uint64, *cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &FusionCache{entries: entries}, nil
}

// Len returns the number of cached vectors.
func (c *FusionCache) Len() int {
	return c.entries.Len()
}

func (c *FusionCache) get(key uint64) ([]float32, FuseInfo, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, FuseInfo{}, false
	}
	vec := make([]float32, len(e.vec))
	copy(vec, e.vec)
	return vec, e.info.clone(), true
}

func (c *FusionCache) put(key uint64, vec []float32, info FuseInfo) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.entries.Add(key, &cacheEntry{vec: stored, info: info.clone()})
}

// clone copies the group lists so cached and returned infos never share backing arrays.
func (i FuseInfo) clone() FuseInfo {
	i.Padded = slices.Clone(i.Padded)
	i.Truncated = slices.Clone(i.Truncated)
	i.Sanitized = slices.Clone(i.Sanitized)
	i.Unknown = slices.Clone(i.Unknown)
	return i
}

// cacheKey digests features in sorted group order so equal maps hash equally. Nil groups are
// left out, matching how fusion treats them.
func cacheKey(features map[string][]float64) uint64 {
	names := make([]string, 0, len(features))
	for name, values := range features {
		if values != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	d := xxhash.New()
	var b [8]byte
	for _, name := range names {
		binary.LittleEndian.PutUint64(b[:], uint64(len(name)))
		_, _ = d.Write(b[:])
		_, _ = d.WriteString(name)
		values := features[name]
		binary.LittleEndian.PutUint64(b[:], uint64(len(values)))
		_, _ = d.Write(b[:])
		for _, v := range values {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
			_, _ = d.Write(b[:])
		}
	}
	return d.Sum64()
}
