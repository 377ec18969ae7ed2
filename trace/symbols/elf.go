package symbols

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

var _ Resolver = (*ELFResolver)(nil)

// ELFResolver attributes addresses against the symbol and line tables of a
// target ELF binary. It carries no disassembly knowledge, so resolved Info
// never reports jump targets and leaves Width at zero (callers fall back
// to the minimum instruction width).
type ELFResolver struct {
	funcs       []funcSym
	lines       []lineEntry
	stripPrefix string
	demangle    bool
}

type funcSym struct {
	addr uint32
	end  uint32 // zero when the symbol has no size
	name string
}

type lineEntry struct {
	addr uint32
	file string
	line uint32
}

// OpenELF loads the function symbols and, when present, the DWARF line
// table of the binary at path. stripPrefix is removed from the front of
// resolved file names. A binary without DWARF still resolves function
// names; file and line come back empty.
func OpenELF(path, stripPrefix string, demangleNames bool) (*ELFResolver, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf %q: %w", path, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("read symbols from %q: %w", path, err)
	}

	r := &ELFResolver{
		stripPrefix: stripPrefix,
		demangle:    demangleNames,
	}

	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		// Thumb function symbols carry the instruction-set mode in bit 0.
		addr := uint32(s.Value) &^ 1
		fs := funcSym{addr: addr, name: s.Name}
		if s.Size > 0 {
			fs.end = addr + uint32(s.Size)
		}
		r.funcs = append(r.funcs, fs)
	}
	if len(r.funcs) == 0 {
		return nil, fmt.Errorf("no function symbols in %q", path)
	}
	sort.Slice(r.funcs, func(i, j int) bool { return r.funcs[i].addr < r.funcs[j].addr })

	// Line info is optional; a stripped-of-DWARF binary still profiles at
	// function granularity.
	if d, err := f.DWARF(); err == nil {
		r.lines = readLineTable(d)
	}

	return r, nil
}

func readLineTable(d *dwarf.Data) []lineEntry {
	var lines []lineEntry

	dr := d.Reader()
	for {
		ent, err := dr.Next()
		if err != nil || ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			dr.SkipChildren()
			continue
		}

		lr, err := d.LineReader(ent)
		if err != nil || lr == nil {
			dr.SkipChildren()
			continue
		}

		var le dwarf.LineEntry
		for lr.Next(&le) == nil {
			if le.EndSequence || le.File == nil {
				continue
			}
			lines = append(lines, lineEntry{
				addr: uint32(le.Address),
				file: le.File.Name,
				line: uint32(le.Line),
			})
		}
		dr.SkipChildren()
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].addr < lines[j].addr })
	return lines
}

func (r *ELFResolver) Lookup(addr uint32) (Info, bool) {
	fs, ok := findFunc(r.funcs, addr)
	if !ok {
		return Info{}, false
	}

	name := fs.name
	if r.demangle {
		name = demangle.Filter(name)
	}

	info := Info{
		Address:  addr,
		Function: name,
	}
	if le, ok := findLine(r.lines, addr); ok {
		info.File = strings.TrimPrefix(le.file, r.stripPrefix)
		info.Line = le.line
	}
	return info, true
}

// findFunc locates the function symbol covering addr: the greatest symbol
// address not above addr, bounded by the symbol size when it has one and
// by the next symbol's start when it does not.
func findFunc(funcs []funcSym, addr uint32) (funcSym, bool) {
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].addr > addr })
	if i == 0 {
		return funcSym{}, false
	}
	fs := funcs[i-1]
	if fs.end > 0 && addr >= fs.end {
		return funcSym{}, false
	}
	if fs.end == 0 && i < len(funcs) && addr >= funcs[i].addr {
		return funcSym{}, false
	}
	return fs, true
}

// findLine returns the last line-table row at or below addr.
func findLine(lines []lineEntry, addr uint32) (lineEntry, bool) {
	i := sort.Search(len(lines), func(i int) bool { return lines[i].addr > addr })
	if i == 0 {
		return lineEntry{}, false
	}
	return lines[i-1], true
}
