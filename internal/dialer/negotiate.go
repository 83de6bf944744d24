package dialer

import (
	"context"
	"net"
	"time"
)

// negotiate runs an upstream handshake fn on c. The handshake is bounded by
// timeout when it is positive, and cancelling ctx unblocks it. On failure c
// is closed; on success its deadline is cleared and fn's conn is returned.
func negotiate(ctx context.Context, c net.Conn, timeout time.Duration, fn func(net.Conn) (net.Conn, error)) (net.Conn, error) {
	if timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})

	nc, err := fn(c)
	if !stop() {
		_ = c.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	_ = c.SetDeadline(time.Time{})
	return nc, nil
}
