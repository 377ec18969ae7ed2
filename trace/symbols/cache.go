package symbols

// Entry is a cached resolution. Index is assigned in first-seen order and
// doubles as the compact file/function identifier in the callgrind output.
// The announced flag tracks whether the entry has been declared in the
// profile dump currently being written.
type Entry struct {
	Info
	Index uint32

	announced bool
}

// Announced reports whether the entry was already declared in this dump.
func (e *Entry) Announced() bool {
	return e.announced
}

// MarkAnnounced records that a full declaration for the entry has been
// emitted; it stays set until the next ResetAnnounced.
func (e *Entry) MarkAnnounced() {
	e.announced = true
}

// Cache memoizes resolver lookups. Failed lookups are not cached, so a
// later resolver (for example after symbols are reloaded) may still
// succeed for the same address. Indices are never reused within a cache;
// cross-run comparability requires a fresh cache per profiling run.
type Cache struct {
	resolver Resolver
	entries  map[uint32]*Entry
	next     uint32
}

func NewCache(r Resolver) *Cache {
	return &Cache{
		resolver: r,
		entries:  make(map[uint32]*Entry),
	}
}

// Resolve returns the cached entry for addr, invoking the resolver on
// first sight. The second return is false when the address cannot be
// attributed.
func (c *Cache) Resolve(addr uint32) (*Entry, bool) {
	if e, ok := c.entries[addr]; ok {
		return e, true
	}

	info, ok := c.resolver.Lookup(addr)
	if !ok {
		return nil, false
	}

	e := &Entry{Info: info, Index: c.next}
	c.next++
	c.entries[addr] = e
	return e, true
}

// ResetAnnounced clears the announced flag on every entry. Called once at
// the start of each profile dump so declarations are re-emitted at most
// once per dump rather than once per process lifetime.
func (c *Cache) ResetAnnounced() {
	for _, e := range c.entries {
		e.announced = false
	}
}

// Len returns the number of distinct addresses resolved so far.
func (c *Cache) Len() int {
	return len(c.entries)
}
