// Package dot renders the raw edge log as a clustered directed graph in
// graphviz dot form, one cluster per source file.
package dot

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/via/orbuculum/trace/recorder"
)

const header = "digraph calls\n{\n  overlap=false; splines=true; size=\"7.75,10.25\"; orientation=portrait; sep=0.1; nodesep=0.1;\n"

// Emit writes the call graph for log to w. The log is clustered twice, by
// destination file and by source file, so every function appears inside
// its file's subgraph from both sides of an edge; a final pass writes one
// labeled edge per distinct (source function, dest function) pair, the
// label carrying the transition count. The log itself is never reordered;
// sorting happens on private copies.
func Emit(w io.Writer, log []recorder.Edge) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(header)

	byDst := sortedCopy(log, func(a, b recorder.Edge) bool {
		if a.DstFile != b.DstFile {
			return a.DstFile < b.DstFile
		}
		if a.DstFn != b.DstFn {
			return a.DstFn < b.DstFn
		}
		if a.SrcFile != b.SrcFile {
			return a.SrcFile < b.SrcFile
		}
		return a.SrcFn < b.SrcFn
	})
	clusters(bw, byDst, func(e recorder.Edge) (string, string) { return e.DstFile, e.DstFn })

	bySrc := sortedCopy(log, func(a, b recorder.Edge) bool {
		if a.SrcFile != b.SrcFile {
			return a.SrcFile < b.SrcFile
		}
		if a.SrcFn != b.SrcFn {
			return a.SrcFn < b.SrcFn
		}
		if a.DstFile != b.DstFile {
			return a.DstFile < b.DstFile
		}
		return a.DstFn < b.DstFn
	})
	clusters(bw, bySrc, func(e recorder.Edge) (string, string) { return e.SrcFile, e.SrcFn })

	arrows(bw, bySrc)

	bw.WriteString("}\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write dot: %w", err)
	}
	return nil
}

// clusters emits one subgraph per contiguous run of file, with one node
// per distinct function inside it. edges must be sorted so that equal
// (file, function) pairs are adjacent.
func clusters(bw *bufio.Writer, edges []recorder.Edge, key func(recorder.Edge) (file, fn string)) {
	for i := 0; i < len(edges); {
		file, _ := key(edges[i])
		fmt.Fprintf(bw, "  subgraph \"cluster_%s\"\n  {\n    label=%q;\n    bgcolor=lightgrey;\n", file, file)

		for i < len(edges) {
			f, fn := key(edges[i])
			if f != file {
				break
			}
			fmt.Fprintf(bw, "    %q [style=filled, fillcolor=white];\n", fn)

			for i < len(edges) {
				nf, nfn := key(edges[i])
				if nf != file || nfn != fn {
					break
				}
				i++
			}
		}

		bw.WriteString("  }\n\n")
	}
}

// arrows emits one labeled edge per contiguous run of identical
// (source function, dest function) pairs, labeled with the run length.
func arrows(bw *bufio.Writer, edges []recorder.Edge) {
	for i := 0; i < len(edges); {
		j := i
		for ; j < len(edges) && edges[j].SrcFn == edges[i].SrcFn && edges[j].DstFn == edges[i].DstFn; j++ {
		}
		fmt.Fprintf(bw, "    %q -> %q [label=%d , weight=0.1;];\n", edges[i].SrcFn, edges[i].DstFn, j-i)
		i = j
	}
}

func sortedCopy(log []recorder.Edge, less func(a, b recorder.Edge) bool) []recorder.Edge {
	out := make([]recorder.Edge, len(log))
	copy(out, log)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
