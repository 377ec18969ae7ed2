// Package calltree pairs entry and exit edges into cost-attributed call
// records by recursive descent over the timestamp-ordered edge log.
package calltree

import (
	"github.com/via/orbuculum/trace/recorder"
)

// Subcall is one resolved invocation. Total is the inclusive duration
// between the opening and closing edges; Exclusive subtracts the inclusive
// cost of every nested call.
type Subcall struct {
	Caller    uint32
	Callee    uint32
	Total     uint64
	Exclusive uint64
}

// Reconstruct pairs entry and exit edges into Subcall records. The log
// must be in timestamp order (its natural append order). Leading exit
// edges belong to frames opened before the capture window and are skipped;
// trailing entry edges with no matching exit are dropped, never fabricated.
// The second return counts those dropped frames.
//
// Attribution comes from the closing edge: its source address is the
// callee, its dest address the caller. Returns travel callee-to-caller, so
// the closing edge's fields are named oppositely to the opening edge's for
// the same logical call. Downstream emitters rely on this exact mapping.
func Reconstruct(log []recorder.Edge) ([]Subcall, int) {
	t := &traversal{log: log}
	for t.pos < len(log) {
		t.descend(0)
	}
	return t.subs, t.dropped
}

type traversal struct {
	log     []recorder.Edge
	pos     int
	subs    []Subcall
	dropped int
}

// descend consumes one call frame starting at the cursor and returns its
// inclusive cost for accumulation by the caller's frame.
func (t *traversal) descend(depth int) uint64 {
	if depth == 0 && !t.log[t.pos].In {
		// A return for a frame opened before the capture window began.
		t.pos++
		return 0
	}

	entry := t.pos
	t.pos++

	// The callee may make further calls before its own return shows up.
	var childCost uint64
	for t.pos < len(t.log) && t.log[t.pos].In {
		childCost += t.descend(depth + 1)
	}

	if t.pos >= len(t.log) {
		// Capture boundary: no matching exit, abandon the frame.
		t.dropped++
		return 0
	}

	closing := t.log[t.pos]
	sub := Subcall{
		Callee: closing.Src,
		Caller: closing.Dst,
		Total:  closing.Timestamp - t.log[entry].Timestamp,
	}
	sub.Exclusive = sub.Total - childCost
	t.subs = append(t.subs, sub)
	t.pos++

	return sub.Total
}
