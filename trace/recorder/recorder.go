// Package recorder turns decoded CPU-state events into an ordered log of
// function-transition edges.
package recorder

import (
	"github.com/via/orbuculum/trace/decoder"
	"github.com/via/orbuculum/trace/symbols"
)

// Sentinels for transitions observed before any symbol has been resolved
// and for exception handlers, which have no source position of their own.
const (
	EntryName     = "Entry"
	InterruptFile = "INTERRUPT"
)

// minInstrWidth is the conservative advance for addresses the resolver
// cannot attribute; it keeps the walk in sync with the disposition bits.
const minInstrWidth = 2

// Edge is one observed function-boundary transition. Edges are appended
// in strictly increasing Timestamp order and never mutated afterwards.
type Edge struct {
	Timestamp uint64

	Src     uint32
	SrcFile string
	SrcFn   string
	SrcLine uint32

	Dst     uint32
	DstFile string
	DstFn   string

	// In marks a call into a new frame; false marks a return out of one.
	In bool
}

// Recorder walks retired instructions forward from the reported execution
// address and appends an Edge whenever the resolved file or function
// changes. Events must arrive in decoder order; that ordering is a hard
// precondition.
type Recorder struct {
	cache *symbols.Cache
	log   []Edge

	// currentFile/currentFn empty means no position established yet; the
	// Entry sentinel is substituted at append time.
	currentFile  string
	currentFn    string
	currentLine  uint32
	workingAddr  uint32
	lastAddr     uint32
	lastWasEntry bool
}

func New(cache *symbols.Cache) *Recorder {
	return &Recorder{
		cache: cache,
		log:   make([]Edge, 0, 4096),
	}
}

// OnEvent consumes one CPU-state-change notification. It runs on the pump
// goroutine and does bounded work per retired instruction.
func (r *Recorder) OnEvent(ev decoder.Event) {
	if ev.Has(decoder.ChangeAddress) {
		r.workingAddr = ev.Addr
	}

	var remaining uint32
	var disposition uint32
	if ev.Has(decoder.ChangeAtoms) {
		remaining = ev.EAtoms + ev.NAtoms
		disposition = ev.Disposition
	}

	if ev.Has(decoder.ChangeExceptionEntry) {
		// The handler frame has no resolvable source position; the next
		// transition opens it as a call.
		r.currentFile = InterruptFile
		r.lastWasEntry = true
	}

	for ; remaining > 0; remaining-- {
		info, ok := r.cache.Resolve(r.workingAddr)
		if !ok {
			// No symbol: assume the shortest instruction to stay in sync.
			r.workingAddr += minInstrWidth
			disposition >>= 1
			continue
		}

		if info.File != r.currentFile || info.Function != r.currentFn {
			srcFile, srcFn := r.currentFile, r.currentFn
			if srcFile == "" {
				srcFile = EntryName
			}
			if srcFn == "" {
				srcFn = EntryName
			}
			r.log = append(r.log, Edge{
				Timestamp: ev.InstCount,
				Src:       r.lastAddr,
				SrcFile:   srcFile,
				SrcFn:     srcFn,
				SrcLine:   r.currentLine,
				Dst:       r.workingAddr,
				DstFile:   info.File,
				DstFn:     info.Function,
				In:        r.lastWasEntry,
			})

			r.currentFile = info.File
			r.currentFn = info.Function
		}
		r.currentLine = info.Line

		r.lastWasEntry = false
		r.lastAddr = r.workingAddr

		if info.IsJump && disposition&1 != 0 {
			// Taken branch: the next retired instruction opens a frame.
			r.workingAddr = info.JumpTarget
			r.lastWasEntry = true
		} else if info.Width != 0 {
			r.workingAddr += info.Width
		} else {
			r.workingAddr += minInstrWidth
		}

		disposition >>= 1
	}
}

// Edges returns the edge log. The recorder retains ownership; callers must
// not mutate it and must copy before any reordering.
func (r *Recorder) Edges() []Edge {
	return r.log
}

// Len returns the number of recorded edges.
func (r *Recorder) Len() int {
	return len(r.log)
}

// Reset discards the edge log and walking state for a new sampling window.
// The symbol cache is deliberately kept.
func (r *Recorder) Reset() {
	r.log = r.log[:0]
	r.currentFile = ""
	r.currentFn = ""
	r.currentLine = 0
	r.workingAddr = 0
	r.lastAddr = 0
	r.lastWasEntry = false
}
