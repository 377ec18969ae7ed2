package dot_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/via/orbuculum/trace/dot"
	"github.com/via/orbuculum/trace/recorder"
)

func edge(srcFile, srcFn, dstFile, dstFn string) recorder.Edge {
	return recorder.Edge{
		SrcFile: srcFile, SrcFn: srcFn,
		DstFile: dstFile, DstFn: dstFn,
	}
}

func TestEmitEmptyLog(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, dot.Emit(&buf, nil))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "digraph calls\n{\n"))
	require.True(t, strings.HasSuffix(out, "}\n"))
	require.NotContains(t, out, "subgraph")
}

func TestClustersByFile(t *testing.T) {
	log := []recorder.Edge{
		edge("main.c", "main", "util.c", "crunch"),
		edge("util.c", "crunch", "main.c", "main"),
		edge("main.c", "main", "util.c", "spin"),
	}

	var buf bytes.Buffer
	require.NoError(t, dot.Emit(&buf, log))
	out := buf.String()

	// Both clusterings run, so each file appears as a subgraph at least
	// once and each function is declared as a node in its file's cluster.
	require.Contains(t, out, "subgraph \"cluster_main.c\"")
	require.Contains(t, out, "subgraph \"cluster_util.c\"")
	require.Contains(t, out, "\"main\" [style=filled, fillcolor=white];")
	require.Contains(t, out, "\"crunch\" [style=filled, fillcolor=white];")
	require.Contains(t, out, "\"spin\" [style=filled, fillcolor=white];")
}

func TestArrowLabelsCountTransitions(t *testing.T) {
	log := []recorder.Edge{
		edge("main.c", "main", "util.c", "crunch"),
		edge("util.c", "crunch", "main.c", "main"),
		edge("main.c", "main", "util.c", "crunch"),
		edge("util.c", "crunch", "main.c", "main"),
		edge("main.c", "main", "util.c", "spin"),
	}

	var buf bytes.Buffer
	require.NoError(t, dot.Emit(&buf, log))
	out := buf.String()

	require.Contains(t, out, "\"main\" -> \"crunch\" [label=2 , weight=0.1;];")
	require.Contains(t, out, "\"crunch\" -> \"main\" [label=2 , weight=0.1;];")
	require.Contains(t, out, "\"main\" -> \"spin\" [label=1 , weight=0.1;];")
}

func TestLogNotMutated(t *testing.T) {
	log := []recorder.Edge{
		edge("z.c", "zeta", "a.c", "alpha"),
		edge("a.c", "alpha", "z.c", "zeta"),
	}
	orig := make([]recorder.Edge, len(log))
	copy(orig, log)

	var buf bytes.Buffer
	require.NoError(t, dot.Emit(&buf, log))
	require.Equal(t, orig, log)
}
