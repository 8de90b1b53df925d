package sim

import (
	"testing"

	"github.com/google/uuid"
)

func TestPerfectSimulationNeverFails(t *testing.T) {
	s := NewSimulator(PerfectSimulationConfig())
	for i := 0; i < 1000; i++ {
		if !s.ShouldConnectionSucceed() {
			t.Fatal("Perfect config should never fail a connection")
		}
		if !s.ShouldPacketSucceed() {
			t.Fatal("Perfect config should never lose a write")
		}
	}
	if s.ConnectionDelay() != 0 || s.DiscoveryDelay() != 0 || s.DisconnectDelay() != 0 {
		t.Error("Perfect config should have zero delays")
	}
}

func TestDeterministicSeedRepeats(t *testing.T) {
	cfg := DefaultSimulationConfig()
	cfg.Deterministic = true
	cfg.Seed = 42

	a := NewSimulator(cfg)
	b := NewSimulator(cfg)
	for i := 0; i < 50; i++ {
		if a.ConnectionDelay() != b.ConnectionDelay() {
			t.Fatalf("Delay %d differs for same seed", i)
		}
	}
}

func TestDelaysWithinBounds(t *testing.T) {
	cfg := DefaultSimulationConfig()
	s := NewSimulator(cfg)
	for i := 0; i < 200; i++ {
		d := s.DiscoveryDelay().Milliseconds()
		if d < int64(cfg.MinDiscoveryDelay) || d >= int64(cfg.MaxDiscoveryDelay) {
			t.Fatalf("Discovery delay %dms outside [%d,%d)", d, cfg.MinDiscoveryDelay, cfg.MaxDiscoveryDelay)
		}
	}
}

func TestCCCDWrite(t *testing.T) {
	c := newCCCDTable()
	char := uuid.New()

	if err := c.write(char, []byte{0x01}); err != ErrInvalidCCCDLength {
		t.Fatalf("Expected ErrInvalidCCCDLength, got %v", err)
	}
	if err := c.write(char, EnableNotificationValue); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !c.subscribed(char) {
		t.Fatal("Expected subscribed after enable")
	}
	if err := c.write(char, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if c.subscribed(char) {
		t.Fatal("Expected unsubscribed after disable")
	}
}
