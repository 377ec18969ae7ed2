package symbols

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFunc(t *testing.T) {
	funcs := []funcSym{
		{addr: 0x1000, end: 0x1020, name: "alpha"},
		{addr: 0x1020, name: "beta"}, // sizeless, bounded by gamma
		{addr: 0x1100, end: 0x1104, name: "gamma"},
	}

	fs, ok := findFunc(funcs, 0x1000)
	require.True(t, ok)
	require.Equal(t, "alpha", fs.name)

	fs, ok = findFunc(funcs, 0x101e)
	require.True(t, ok)
	require.Equal(t, "alpha", fs.name)

	fs, ok = findFunc(funcs, 0x1050)
	require.True(t, ok)
	require.Equal(t, "beta", fs.name)

	fs, ok = findFunc(funcs, 0x1103)
	require.True(t, ok)
	require.Equal(t, "gamma", fs.name)

	// Before the first symbol and past the last sized symbol.
	_, ok = findFunc(funcs, 0x0fff)
	require.False(t, ok)
	_, ok = findFunc(funcs, 0x1104)
	require.False(t, ok)
}

func TestFindLine(t *testing.T) {
	lines := []lineEntry{
		{addr: 0x1000, file: "a.c", line: 1},
		{addr: 0x1004, file: "a.c", line: 2},
		{addr: 0x1010, file: "b.c", line: 7},
	}

	le, ok := findLine(lines, 0x1006)
	require.True(t, ok)
	require.Equal(t, uint32(2), le.line)

	le, ok = findLine(lines, 0x2000)
	require.True(t, ok)
	require.Equal(t, "b.c", le.file)

	_, ok = findLine(lines, 0x0500)
	require.False(t, ok)
}

func TestOpenELFMissing(t *testing.T) {
	_, err := OpenELF("testdata/definitely-not-here.elf", "", true)
	require.Error(t, err)
}
