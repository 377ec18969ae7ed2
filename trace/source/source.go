// Package source opens the raw trace byte stream: a TCP endpoint, a
// websocket endpoint, or a capture file.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"nhooyr.io/websocket"
)

// IsNetwork reports whether target names a network endpoint. Network
// sources are reconnected with backoff on failure; file sources fail hard.
func IsNetwork(target string) bool {
	return strings.HasPrefix(target, "tcp://") ||
		strings.HasPrefix(target, "ws://") ||
		strings.HasPrefix(target, "wss://")
}

// Open connects to target and returns the byte stream. Supported forms
// are tcp://host:port, ws://... and wss://... endpoints, and a plain file
// path. Network streams support read deadlines.
func Open(ctx context.Context, target string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(target, "tcp://"):
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(target, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		return conn, nil

	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		c, _, err := websocket.Dial(ctx, target, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		// The net.Conn adapter gives the pump loop the same deadline
		// behavior as a TCP stream.
		return websocket.NetConn(ctx, c, websocket.MessageBinary), nil

	default:
		f, err := os.Open(target)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		return f, nil
	}
}
