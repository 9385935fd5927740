package trxd

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/GoTRX/internal/mdns"
	"github.com/rjboer/GoTRX/internal/sdr"
)

// Enumerator lists trxd servers from a static address list and, when
// Browse is set, from mDNS. Static addresses come first so their indices
// stay fixed.
type Enumerator struct {
	Addrs   []string
	Browse  bool
	Timeout time.Duration
	Options Options

	// discover is swapped out in tests.
	discover func(ctx context.Context, timeout time.Duration) ([]mdns.Host, error)
}

var _ sdr.Enumerator = (*Enumerator)(nil)

// NewEnumerator builds an enumerator over static addresses.
func NewEnumerator(opts Options, addrs ...string) *Enumerator {
	return &Enumerator{Addrs: addrs, Timeout: 2 * time.Second, Options: opts, discover: mdns.Discover}
}

// List returns one Info per reachable server address. Servers are not
// contacted; Open does that.
func (e *Enumerator) List(ctx context.Context) ([]sdr.Info, error) {
	out := make([]sdr.Info, 0, len(e.Addrs))
	seen := make(map[string]bool)
	for _, addr := range e.Addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, sdr.Info{Name: "trxd", Addr: addr})
	}
	if !e.Browse {
		return out, nil
	}

	discover := e.discover
	if discover == nil {
		discover = mdns.Discover
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	hosts, err := discover(ctx, timeout)
	if err != nil {
		return out, fmt.Errorf("discover trxd servers: %w", err)
	}
	for _, h := range hosts {
		addr := h.Addr()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, sdr.Info{Name: h.Instance, Serial: h.TXTValue("serial"), Addr: addr})
	}
	return out, nil
}

// Open dials the server behind info.
func (e *Enumerator) Open(ctx context.Context, info sdr.Info) (sdr.Device, error) {
	if info.Addr == "" {
		return nil, fmt.Errorf("device %s has no address", info)
	}
	return Dial(ctx, info.Addr, e.Options)
}
