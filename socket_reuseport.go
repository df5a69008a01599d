//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package nanohttp

import (
	"context"
	"net"

	"github.com/valyala/tcplisten"
)

// ReusePortSocketFactory listens with SO_REUSEPORT, so several servers (or
// processes) may share one port. Unlike DefaultSocketFactory it honours the
// backlog.
type ReusePortSocketFactory struct {
	// DeferAccept wakes Accept only once the client sent data.
	DeferAccept bool
	// FastOpen enables TCP fast open.
	FastOpen bool
}

// Listen only supports "tcp4" and "tcp6". "tcp" is treated as "tcp4".
func (f *ReusePortSocketFactory) Listen(ctx context.Context, network, addr string, backlog int) (net.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if network == "tcp" {
		network = "tcp4"
	}
	cfg := &tcplisten.Config{
		ReusePort:   true,
		DeferAccept: f.DeferAccept,
		FastOpen:    f.FastOpen,
		Backlog:     backlog,
	}
	return cfg.NewListener(network, addr)
}
