package source_test

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/via/orbuculum/trace/source"
)

func TestIsNetwork(t *testing.T) {
	require.True(t, source.IsNetwork("tcp://localhost:3443"))
	require.True(t, source.IsNetwork("ws://localhost:8080/trace"))
	require.True(t, source.IsNetwork("wss://example.com/trace"))
	require.False(t, source.IsNetwork("/tmp/capture.bin"))
	require.False(t, source.IsNetwork("capture.bin"))
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, []byte("trace bytes"), 0o644))

	rc, err := source.Open(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "trace bytes", string(data))
}

func TestOpenFileMissing(t *testing.T) {
	_, err := source.Open(context.Background(), filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
}

func TestOpenTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("hello"))
		_ = conn.Close()
	}()

	rc, err := source.Open(context.Background(), "tcp://"+l.Addr().String())
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestOpenTCPRefused(t *testing.T) {
	// Grab a port and close it so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = source.Open(context.Background(), "tcp://"+addr)
	require.Error(t, err)
}
