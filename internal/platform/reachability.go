package platform

import (
	"context"
	"log/slog"
	"net"
	"time"

	applog "github.com/nhle/mailsync/internal/log"
)

// Used when NewReachability is given a non-positive interval or timeout.
const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Reachability probes a TCP address and reports transitions.
type Reachability struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	onChange func(reachable bool)
	logger   *slog.Logger
	dialer   func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewReachability returns a monitor for address (host:port). onChange
// receives the first probe result and every change after it.
func NewReachability(
	address string,
	interval, timeout time.Duration,
	onChange func(reachable bool),
	logger *slog.Logger,
) *Reachability {
	if logger == nil {
		logger = applog.Discard()
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	d := &net.Dialer{Timeout: timeout}
	return &Reachability{
		address:  address,
		interval: interval,
		timeout:  timeout,
		onChange: onChange,
		logger:   logger.With("component", "reachability", "address", address),
		dialer:   d.DialContext,
	}
}

// Probe reports whether a TCP connection to the address succeeds.
func (r *Reachability) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dialer(ctx, "tcp", r.address)
	if err != nil {
		r.logger.Debug("probe failed", "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// Run probes every interval until ctx is done.
func (r *Reachability) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var last *bool
	for {
		up := r.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		if last == nil || *last != up {
			last = &up
			r.logger.Debug("reachability changed", "reachable", up)
			r.onChange(up)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
