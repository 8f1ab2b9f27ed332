package network

import (
	"context"
	"fmt"
	"net"
)

// Listen opens the relay's TCP listener with SO_REUSEADDR set, so a
// restarted relay can rebind while old sockets sit in TIME_WAIT.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}
