// Package callgrind serializes the subcalls table in the callgrind text
// format understood by kcachegrind and compatible viewers.
package callgrind

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/via/orbuculum/trace/calltree"
	"github.com/via/orbuculum/trace/symbols"
)

// Emit writes a callgrind-compatible profile for subs to w. objPath names
// the profiled binary, summary is the captured duration in cycles (last
// edge timestamp minus first). The subcalls table is not mutated; sorting
// happens on private copies. Costs are attributed per callee in the first
// pass and per (callee, caller) pair in the calls pass.
func Emit(w io.Writer, subs []calltree.Subcall, cache *symbols.Cache, objPath string, summary uint64) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "# callgrind format\n")
	fmt.Fprintf(bw, "positions: line instr\nevent: Cyc : Processor Clock Cycles\nevents: Cyc\n")
	fmt.Fprintf(bw, "summary: %d\n", summary)
	fmt.Fprintf(bw, "ob=%s\n", objPath)

	// Declarations are re-announced at most once per dump.
	cache.ResetAnnounced()

	emitTotals(bw, sortedBy(subs, byCallee), cache)

	fmt.Fprintf(bw, "\n\n## ------------------- Calls Follow ------------------------\n")
	emitCalls(bw, sortedBy(subs, byCalleeCaller), cache)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// emitTotals writes one declaration per callee carrying its summed
// exclusive cost. subs must be sorted by callee.
func emitTotals(bw *bufio.Writer, subs []calltree.Subcall, cache *symbols.Cache) {
	for i := 0; i < len(subs); {
		j := i
		var exclusive uint64
		for ; j < len(subs) && subs[j].Callee == subs[i].Callee; j++ {
			exclusive += subs[j].Exclusive
		}

		if e, ok := cache.Resolve(subs[i].Callee); ok && !e.Announced() {
			declare(bw, e, exclusive)
			e.MarkAnnounced()
		}
		i = j
	}
}

// emitCalls writes one call-relationship record per (callee, caller) pair
// with aggregated inclusive cost and invocation count. subs must be sorted
// by callee then caller.
func emitCalls(bw *bufio.Writer, subs []calltree.Subcall, cache *symbols.Cache) {
	for i := 0; i < len(subs); {
		j := i
		var myCost, totalCost uint64
		for ; j < len(subs) && subs[j].Callee == subs[i].Callee && subs[j].Caller == subs[i].Caller; j++ {
			myCost += subs[j].Exclusive
			totalCost += subs[j].Total
		}
		totalCalls := j - i

		callee, okCallee := cache.Resolve(subs[i].Callee)
		caller, okCaller := cache.Resolve(subs[i].Caller)
		if !okCallee || !okCaller {
			// Addresses in the table were resolvable when recorded, so
			// this only trips for synthetic entry sentinels.
			i = j
			continue
		}

		if !callee.Announced() {
			declare(bw, callee, myCost)
			callee.MarkAnnounced()
		} else {
			shortForm(bw, callee)
		}

		if !caller.Announced() {
			// The caller's own cost is not observable here; 1 keeps the
			// function visible to viewers.
			declare(bw, caller, 1)
			caller.MarkAnnounced()
		} else {
			shortForm(bw, caller)
		}

		fmt.Fprintf(bw, "cfi=(%d)\ncfn=(%d)\ncalls=%d 0x%08x %d\n",
			callee.Index, callee.Index, totalCalls, callee.Address, callee.Line)
		fmt.Fprintf(bw, "0x%08x %d %d\n", caller.Address, caller.Line, totalCost)

		i = j
	}
}

func declare(bw *bufio.Writer, e *symbols.Entry, cost uint64) {
	fmt.Fprintf(bw, "fl=(%d) %s\nfn=(%d) %s\n0x%08x %d %d\n",
		e.Index, e.File, e.Index, e.Function, e.Address, e.Line, cost)
}

func shortForm(bw *bufio.Writer, e *symbols.Entry) {
	fmt.Fprintf(bw, "fl=(%d)\nfn=(%d)\n", e.Index, e.Index)
}

type lessFn func(a, b calltree.Subcall) bool

func byCallee(a, b calltree.Subcall) bool {
	return a.Callee < b.Callee
}

func byCalleeCaller(a, b calltree.Subcall) bool {
	if a.Callee != b.Callee {
		return a.Callee < b.Callee
	}
	return a.Caller < b.Caller
}

func sortedBy(subs []calltree.Subcall, less lessFn) []calltree.Subcall {
	out := make([]calltree.Subcall, len(subs))
	copy(out, subs)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
