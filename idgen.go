package spanlog

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

const (
	nodeBits    = 48
	counterBits = 64 - nodeBits

	nodeMask    = 1<<nodeBits - 1
	counterMask = 1<<counterBits - 1
)

// Generator produces fresh, practically-unique 128-bit identifiers:
// the high half is the epoch-nanosecond timestamp (truncated to 64 bits),
// the low half is a 16-bit per-timestamp counter over a 48-bit node value.
//
// Safe for concurrent use by multiple goroutines.
type Generator struct {
	mu       sync.Mutex
	clock    clockz.Clock
	node     uint64
	counter  uint64
	lastTime int64
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorClock sets the clock used for the timestamp half.
// Enables clock injection for deterministic testing.
func WithGeneratorClock(clock clockz.Clock) GeneratorOption {
	return func(g *Generator) {
		g.clock = clock
	}
}

// WithNode sets the 48-bit node value explicitly, bypassing hardware-address
// discovery. Values wider than 48 bits are truncated.
func WithNode(node uint64) GeneratorOption {
	return func(g *Generator) {
		g.node = node & nodeMask
	}
}

// NewGenerator creates a Generator. Unless WithNode is given, the node value
// is taken from the first usable hardware (MAC) address; if none is
// available an error is returned so the host can fail fast or fall back to
// WithNode(RandomNode()).
func NewGenerator(opts ...GeneratorOption) (*Generator, error) {
	g := &Generator{clock: clockz.RealClock}
	for _, opt := range opts {
		opt(g)
	}
	if g.node == 0 {
		node, err := hardwareNode()
		if err != nil {
			return nil, err
		}
		g.node = node
	}
	return g, nil
}

// Next returns a fresh identifier. Concurrent callers never observe the same
// value: a strictly newer timestamp resets the counter, a timestamp tie
// increments it.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixNano()
	if g.lastTime < now {
		g.lastTime = now
		g.counter = 0
	} else {
		g.counter = (g.counter + 1) & counterMask
	}
	return ID{
		Hi: uint64(now),
		Lo: g.counter<<nodeBits | g.node,
	}
}

// RandomNode returns a random 48-bit node value for hosts without a usable
// hardware address.
func RandomNode() uint64 {
	u := uuid.New()
	var node uint64
	for _, b := range u[10:16] {
		node = node<<8 | uint64(b)
	}
	return node & nodeMask
}

// hardwareNode derives the node value from the first interface that reports
// a hardware address.
func hardwareNode() (uint64, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) < 6 {
			continue
		}
		var node uint64
		for _, b := range iface.HardwareAddr[:6] {
			node = node<<8 | uint64(b)
		}
		if node != 0 {
			return node, nil
		}
	}
	return 0, errors.New("no hardware address available for node identity")
}
