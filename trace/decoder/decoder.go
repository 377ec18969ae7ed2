// Package decoder defines the boundary to the instruction-trace decoder.
//
// The decoder turns raw trace bytes into discrete CPU-state-change events.
// Each event is a partial diff of the tracked CPU state: the Changed mask
// says which fields carry new information, everything else is stale and
// must be ignored by the consumer.
package decoder

// Change flags one piece of CPU state updated by an event.
type Change uint8

const (
	// ChangeAddress means Addr carries a new execution address.
	ChangeAddress Change = 1 << iota
	// ChangeAtoms means EAtoms/NAtoms/Disposition describe a batch of
	// retired instructions.
	ChangeAtoms
	// ChangeExceptionEntry marks entry into an exception handler.
	ChangeExceptionEntry
	// ChangeExceptionExit marks return from an exception handler.
	ChangeExceptionExit
)

// Event is one CPU-state-change notification.
type Event struct {
	Changed Change

	// Addr is the execution address, valid when ChangeAddress is set.
	Addr uint32

	// EAtoms and NAtoms count taken and not-taken retired instructions
	// in this batch, valid when ChangeAtoms is set. Disposition carries
	// one taken/not-taken bit per retired instruction, least significant
	// bit first.
	EAtoms      uint32
	NAtoms      uint32
	Disposition uint32

	// InstCount is the monotonic retired-instruction counter, used as
	// the event timestamp.
	InstCount uint64
}

// Has reports whether all the given changes are present on the event.
func (e Event) Has(c Change) bool {
	return e.Changed&c == c
}

// Handler consumes decoded events. It runs synchronously on the pump
// goroutine and must not block.
type Handler func(Event)

// Decoder pushes decoded events from a raw byte stream. Implementations
// must tolerate arbitrary buffer boundaries: a record may span multiple
// Pump calls.
type Decoder interface {
	Pump(data []byte, fn Handler)
}
