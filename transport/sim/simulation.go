package sim

import (
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of the simulated radio link
type SimulationConfig struct {
	// Connection timing (in milliseconds)
	MinConnectionDelay    int     // Default: 30ms
	MaxConnectionDelay    int     // Default: 100ms
	ConnectionFailureRate float64 // Default: 0.016 (1.6% failure rate)

	// Discovery timing (in milliseconds)
	MinDiscoveryDelay int // Default: 100ms
	MaxDiscoveryDelay int // Default: 500ms

	// Write reliability
	PacketLossRate float64 // Default: 0.015 (1.5% of writes fail)

	DisconnectingDelay int // Default: 20ms

	// Deterministic mode for testing
	Deterministic bool
	Seed          int64
}

// DefaultSimulationConfig returns realistic BLE timing and failure rates
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MinConnectionDelay:    30,
		MaxConnectionDelay:    100,
		ConnectionFailureRate: 0.016,

		MinDiscoveryDelay: 100,
		MaxDiscoveryDelay: 500,

		PacketLossRate: 0.015,

		DisconnectingDelay: 20,
	}
}

// PerfectSimulationConfig returns a 100% reliable, zero-latency config for tests
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.MinConnectionDelay = 0
	cfg.MaxConnectionDelay = 0
	cfg.ConnectionFailureRate = 0
	cfg.MinDiscoveryDelay = 0
	cfg.MaxDiscoveryDelay = 0
	cfg.PacketLossRate = 0
	cfg.DisconnectingDelay = 0
	cfg.Deterministic = true
	return cfg
}

// Simulator rolls the dice for link behaviour. Safe for concurrent use.
type Simulator struct {
	config *SimulationConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewSimulator creates a new link simulator
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	seed := time.Now().UnixNano()
	if config.Deterministic {
		seed = config.Seed
	}

	return &Simulator{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) between(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	s.mu.Lock()
	delay := minMs + s.rng.Intn(maxMs-minMs)
	s.mu.Unlock()
	return time.Duration(delay) * time.Millisecond
}

// ShouldConnectionSucceed returns true if a connection attempt should succeed
func (s *Simulator) ShouldConnectionSucceed() bool {
	return s.float() >= s.config.ConnectionFailureRate
}

// ConnectionDelay returns a realistic connection establishment delay
func (s *Simulator) ConnectionDelay() time.Duration {
	return s.between(s.config.MinConnectionDelay, s.config.MaxConnectionDelay)
}

// DiscoveryDelay returns a realistic service discovery delay
func (s *Simulator) DiscoveryDelay() time.Duration {
	return s.between(s.config.MinDiscoveryDelay, s.config.MaxDiscoveryDelay)
}

// ShouldPacketSucceed returns true if a write should reach the peripheral
func (s *Simulator) ShouldPacketSucceed() bool {
	return s.float() >= s.config.PacketLossRate
}

// DisconnectDelay returns the delay for a graceful disconnect
func (s *Simulator) DisconnectDelay() time.Duration {
	return time.Duration(s.config.DisconnectingDelay) * time.Millisecond
}
