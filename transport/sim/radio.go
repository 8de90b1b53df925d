package sim

import (
	"sync"

	"github.com/user/ventana-link/transport"
)

// Radio is the shared air between simulated centrals and peripherals
type Radio struct {
	mu          sync.RWMutex
	peripherals map[string]*Peripheral
	simulator   *Simulator
}

// NewRadio creates an empty radio. A nil config uses DefaultSimulationConfig.
func NewRadio(config *SimulationConfig) *Radio {
	return &Radio{
		peripherals: make(map[string]*Peripheral),
		simulator:   NewSimulator(config),
	}
}

// Add places a peripheral on the air, replacing any at the same address
func (r *Radio) Add(p *Peripheral) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals[p.Address()] = p
}

// Remove takes a peripheral off the air and drops its links
func (r *Radio) Remove(address string) {
	r.mu.Lock()
	p, ok := r.peripherals[address]
	delete(r.peripherals, address)
	r.mu.Unlock()
	if ok {
		p.DropLinks(ErrUnknownAddress)
	}
}

// Peripheral looks up a peripheral by address
func (r *Radio) Peripheral(address string) (*Peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peripherals[address]
	return p, ok
}

// Factory returns a transport.Factory producing centrals on this radio
func (r *Radio) Factory() transport.Factory {
	return func() (transport.Transport, error) {
		return NewTransport(r), nil
	}
}
