// Package replay decodes the framed event-record stream produced by an
// external trace decode stage. Records are fixed-size and little-endian:
//
//	offset 0  uint8   change mask (decoder.Change bits)
//	offset 1  uint32  address
//	offset 5  uint16  taken atom count
//	offset 7  uint16  not-taken atom count
//	offset 9  uint32  disposition bits
//	offset 13 uint64  retired-instruction count
//
// 21 bytes per record. The stream carries no sync markers; the producer is
// trusted to start at a record boundary.
package replay

import (
	"encoding/binary"

	"github.com/via/orbuculum/trace/decoder"
)

// RecordSize is the wire size of one event record in bytes.
const RecordSize = 21

var _ decoder.Decoder = (*Decoder)(nil)

// Decoder reassembles event records across arbitrary buffer boundaries.
type Decoder struct {
	partial []byte
}

func New() *Decoder {
	return &Decoder{}
}

// Pump appends data to the pending stream and delivers every complete
// record to fn, retaining any trailing partial record for the next call.
func (d *Decoder) Pump(data []byte, fn decoder.Handler) {
	d.partial = append(d.partial, data...)

	n := 0
	for len(d.partial)-n >= RecordSize {
		fn(Unmarshal(d.partial[n : n+RecordSize]))
		n += RecordSize
	}
	d.partial = append(d.partial[:0], d.partial[n:]...)
}

// Unmarshal decodes exactly one record. The slice must be RecordSize long.
func Unmarshal(rec []byte) decoder.Event {
	return decoder.Event{
		Changed:     decoder.Change(rec[0]),
		Addr:        binary.LittleEndian.Uint32(rec[1:5]),
		EAtoms:      uint32(binary.LittleEndian.Uint16(rec[5:7])),
		NAtoms:      uint32(binary.LittleEndian.Uint16(rec[7:9])),
		Disposition: binary.LittleEndian.Uint32(rec[9:13]),
		InstCount:   binary.LittleEndian.Uint64(rec[13:21]),
	}
}

// Marshal appends the wire form of ev to buf. Useful for capture tools and
// tests; the profiler itself only reads.
func Marshal(buf []byte, ev decoder.Event) []byte {
	var rec [RecordSize]byte
	rec[0] = byte(ev.Changed)
	binary.LittleEndian.PutUint32(rec[1:5], ev.Addr)
	binary.LittleEndian.PutUint16(rec[5:7], uint16(ev.EAtoms))
	binary.LittleEndian.PutUint16(rec[7:9], uint16(ev.NAtoms))
	binary.LittleEndian.PutUint32(rec[9:13], ev.Disposition)
	binary.LittleEndian.PutUint64(rec[13:21], ev.InstCount)
	return append(buf, rec[:]...)
}
