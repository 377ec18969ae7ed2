package symbols_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/via/orbuculum/trace/symbols"
)

type mapResolver struct {
	infos map[uint32]symbols.Info
	hits  int
}

func (m *mapResolver) Lookup(addr uint32) (symbols.Info, bool) {
	m.hits++
	info, ok := m.infos[addr]
	return info, ok
}

func TestCacheStableIndices(t *testing.T) {
	res := &mapResolver{infos: map[uint32]symbols.Info{
		0x1000: {Address: 0x1000, File: "a.c", Function: "alpha", Line: 10},
		0x2000: {Address: 0x2000, File: "b.c", Function: "beta", Line: 20},
	}}
	cache := symbols.NewCache(res)

	a, ok := cache.Resolve(0x1000)
	require.True(t, ok)
	b, ok := cache.Resolve(0x2000)
	require.True(t, ok)

	require.Equal(t, uint32(0), a.Index)
	require.Equal(t, uint32(1), b.Index)

	// Second resolution hits the cache, same entry, same index.
	again, ok := cache.Resolve(0x1000)
	require.True(t, ok)
	require.Same(t, a, again)
	require.Equal(t, 2, res.hits)
	require.Equal(t, 2, cache.Len())
}

func TestCacheNegativeNotCached(t *testing.T) {
	res := &mapResolver{infos: map[uint32]symbols.Info{}}
	cache := symbols.NewCache(res)

	_, ok := cache.Resolve(0xdead)
	require.False(t, ok)
	_, ok = cache.Resolve(0xdead)
	require.False(t, ok)
	// The resolver was consulted both times; misses are never cached.
	require.Equal(t, 2, res.hits)
	require.Equal(t, 0, cache.Len())

	// A later successful resolution still gets the next index from zero.
	res.infos[0xdead] = symbols.Info{Address: 0xdead, Function: "late"}
	e, ok := cache.Resolve(0xdead)
	require.True(t, ok)
	require.Equal(t, uint32(0), e.Index)
}

func TestResetAnnounced(t *testing.T) {
	res := &mapResolver{infos: map[uint32]symbols.Info{
		0x1000: {Address: 0x1000, Function: "alpha"},
	}}
	cache := symbols.NewCache(res)

	e, ok := cache.Resolve(0x1000)
	require.True(t, ok)
	require.False(t, e.Announced())

	e.MarkAnnounced()
	require.True(t, e.Announced())

	cache.ResetAnnounced()
	require.False(t, e.Announced())
}
