// Package netprobe decides whether the shared database is reachable.
//
// A host is considered online when the kernel has a default route and an ICMP
// echo to the probe host comes back. A single lost echo does not flip an online
// host to offline; FailThreshold consecutive failures do.
package netprobe

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	probing "github.com/prometheus-community/pro-bing"
	"github.com/user/ventana-link/logger"
	"github.com/vishvananda/netlink"
)

const (
	DefaultHost          = "8.8.8.8"
	DefaultTimeout       = time.Second
	DefaultFailThreshold = 3
)

// Prober checks reachability. Safe for concurrent use.
type Prober struct {
	Host          string
	Timeout       time.Duration
	Privileged    bool
	FailThreshold int
	// Interface, when set, must be up for the host to count as online
	Interface string

	// replaceable in tests
	hasRoute func() (bool, error)
	linkUp   func(name string) bool
	ping     func(ctx context.Context, host string, timeout time.Duration, privileged bool) bool

	mu       sync.Mutex
	online   bool
	failures int
}

// New creates a prober for host
func New(host string) *Prober {
	if host == "" {
		host = DefaultHost
	}
	return &Prober{
		Host:          host,
		Timeout:       DefaultTimeout,
		FailThreshold: DefaultFailThreshold,
		hasRoute:      DefaultRoute,
		linkUp:        LinkUp,
		ping:          Ping,
		online:        true,
	}
}

// Reachable runs one probe and returns the debounced result
func (p *Prober) Reachable(ctx context.Context) bool {
	routed, err := p.hasRoute()
	if err != nil {
		logger.Debug("netprobe", "route lookup: %v", err)
	}
	if routed && p.Interface != "" && !p.linkUp(p.Interface) {
		logger.Debug("netprobe", "interface %s is down", p.Interface)
		routed = false
	}
	ok := routed && p.ping(ctx, p.Host, p.Timeout, p.Privileged)

	p.mu.Lock()
	defer p.mu.Unlock()

	if ok {
		p.failures = 0
		p.online = true
		return true
	}
	if !routed {
		// no route (or a downed interface) is not a transient loss
		p.failures = p.FailThreshold
		p.online = false
		return false
	}
	p.failures++
	if p.failures >= p.FailThreshold {
		p.online = false
	}
	return p.online
}

// DefaultRoute reports whether an IPv4 default route exists
func DefaultRoute() (bool, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return false, errors.Wrap(err, "route list")
	}
	for _, r := range routes {
		if r.Dst == nil || r.Dst.String() == "0.0.0.0/0" {
			return true, nil
		}
	}
	return false, nil
}

// LinkUp reports whether the named interface exists and is administratively up
func LinkUp(name string) bool {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return false
	}
	return link.Attrs().Flags&net.FlagUp != 0
}

// Ping sends a single ICMP echo and reports whether it came back
func Ping(ctx context.Context, host string, timeout time.Duration, privileged bool) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		logger.Debug("netprobe", "pinger %s: %v", host, err)
		return false
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.Interval = timeout
	pinger.SetPrivileged(privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		logger.Debug("netprobe", "ping %s: %v", host, err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
