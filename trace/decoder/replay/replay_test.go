package replay_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/via/orbuculum/trace/decoder"
	"github.com/via/orbuculum/trace/decoder/replay"
)

func TestRoundTrip(t *testing.T) {
	want := decoder.Event{
		Changed:     decoder.ChangeAddress | decoder.ChangeAtoms,
		Addr:        0x0800_1234,
		EAtoms:      3,
		NAtoms:      1,
		Disposition: 0b1011,
		InstCount:   987654321,
	}

	buf := replay.Marshal(nil, want)
	require.Len(t, buf, replay.RecordSize)

	var got []decoder.Event
	replay.New().Pump(buf, func(ev decoder.Event) {
		got = append(got, ev)
	})
	require.Equal(t, []decoder.Event{want}, got)
}

func TestPartialDelivery(t *testing.T) {
	events := []decoder.Event{
		{Changed: decoder.ChangeAddress, Addr: 0x1000, InstCount: 1},
		{Changed: decoder.ChangeAtoms, EAtoms: 2, Disposition: 0b01, InstCount: 2},
		{Changed: decoder.ChangeExceptionEntry, InstCount: 3},
	}

	var buf []byte
	for _, ev := range events {
		buf = replay.Marshal(buf, ev)
	}

	var got []decoder.Event
	d := replay.New()
	// Feed one byte at a time to force reassembly across every boundary.
	for i := range buf {
		d.Pump(buf[i:i+1], func(ev decoder.Event) {
			got = append(got, ev)
		})
	}
	require.Equal(t, events, got)
}

func TestHas(t *testing.T) {
	ev := decoder.Event{Changed: decoder.ChangeAddress | decoder.ChangeAtoms}
	require.True(t, ev.Has(decoder.ChangeAddress))
	require.True(t, ev.Has(decoder.ChangeAddress|decoder.ChangeAtoms))
	require.False(t, ev.Has(decoder.ChangeExceptionEntry))
}
