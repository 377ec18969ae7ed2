// Package symbols maps execution addresses to source-level metadata and
// caches the results with stable, first-seen serialization indices.
package symbols

// Info is the resolved metadata for one address.
type Info struct {
	Address  uint32
	File     string
	Function string
	Line     uint32

	// IsJump and JumpTarget describe the instruction at Address when the
	// resolver has assembly knowledge; Width is the instruction width in
	// address units, zero when unknown.
	IsJump     bool
	JumpTarget uint32
	Width      uint32
}

// Resolver attributes an address to its symbol metadata. Lookup returns
// false when the address cannot be attributed; that outcome must never be
// treated as fatal by callers.
type Resolver interface {
	Lookup(addr uint32) (Info, bool)
}
