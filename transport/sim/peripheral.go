// Package sim is an in-process radio with a simulated window controller.
//
// The Peripheral behaves like the deployed firmware: it de-obfuscates and verifies
// command frames written to the control characteristic, moves the window, and
// pushes a text notification on the telemetry characteristic to every subscribed
// link. Faults (power loss, dropped links, missing characteristics) can be injected
// to exercise the session's recovery path.
package sim

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/ventana-link/logger"
	"github.com/user/ventana-link/protocol"
)

var (
	ErrPoweredOff     = errors.New("sim: peripheral powered off")
	ErrUnknownAddress = errors.New("sim: no peripheral at address")
	ErrNoSuchChar     = errors.New("sim: characteristic not writable")
)

// Telemetry texts pushed by the firmware
const (
	TextOpened       = "Ventana abierta"
	TextClosed       = "Ventana cerrada"
	TextRainDetected = "Lluvia detectada: ventana cerrada"
)

// Profile is the GATT layout advertised by the peripheral
type Profile struct {
	Service   uuid.UUID
	Control   uuid.UUID
	Telemetry uuid.UUID
}

// Peripheral simulates the window controller firmware
type Peripheral struct {
	address string
	profile Profile
	codec   *protocol.Codec

	mu             sync.Mutex
	powered        bool
	open           bool
	hideControl    bool
	hideTelemetry  bool
	links          map[*Transport]*cccdTable
	writes         [][]byte
	rejectedFrames int
}

// NewPeripheral creates a powered-on peripheral with a closed window
func NewPeripheral(address string, profile Profile, secret byte) *Peripheral {
	return &Peripheral{
		address: address,
		profile: profile,
		codec:   protocol.NewCodec(secret),
		powered: true,
		links:   make(map[*Transport]*cccdTable),
	}
}

// Address returns the radio address
func (p *Peripheral) Address() string { return p.address }

// Profile returns the GATT layout
func (p *Peripheral) Profile() Profile { return p.profile }

// IsOpen reports the window position
func (p *Peripheral) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Writes returns a copy of every raw frame written to the control characteristic
func (p *Peripheral) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	for i, w := range p.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// RejectedFrames counts frames that failed checksum or command validation
func (p *Peripheral) RejectedFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejectedFrames
}

// LinkCount returns the number of attached centrals
func (p *Peripheral) LinkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

// SetCharacteristicsHidden makes discovery miss the given characteristics
func (p *Peripheral) SetCharacteristicsHidden(control, telemetry bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hideControl = control
	p.hideTelemetry = telemetry
}

// PowerOff drops every link and refuses new connections
func (p *Peripheral) PowerOff() {
	p.mu.Lock()
	p.powered = false
	p.mu.Unlock()
	p.DropLinks(ErrPoweredOff)
}

// PowerOn accepts connections again
func (p *Peripheral) PowerOn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.powered = true
}

// DropLinks simulates radio loss on every attached link
func (p *Peripheral) DropLinks(reason error) {
	p.mu.Lock()
	links := make([]*Transport, 0, len(p.links))
	for t := range p.links {
		links = append(links, t)
	}
	p.links = make(map[*Transport]*cccdTable)
	p.mu.Unlock()

	for _, t := range links {
		logger.Info(p.logPrefix(), "📴 dropping link (%v)", reason)
		t.linkLost(reason)
	}
}

// SenseRain closes the window on its own, as the rain sensor does
func (p *Peripheral) SenseRain() {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
	p.Notify(TextRainDetected)
}

// Notify pushes text on the telemetry characteristic to subscribed links
func (p *Peripheral) Notify(text string) {
	p.mu.Lock()
	var targets []*Transport
	for t, cccd := range p.links {
		if cccd.subscribed(p.profile.Telemetry) {
			targets = append(targets, t)
		}
	}
	p.mu.Unlock()

	for _, t := range targets {
		t.notify(p.profile.Telemetry, []byte(text))
	}
}

func (p *Peripheral) attach(t *Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.powered {
		return ErrPoweredOff
	}
	p.links[t] = newCCCDTable()
	return nil
}

func (p *Peripheral) detach(t *Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.links, t)
}

func (p *Peripheral) discover(service, control, telemetry uuid.UUID) (hasControl, hasTelemetry bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if service != p.profile.Service {
		return false, false, errors.Errorf("sim: service %s not found", service)
	}
	hasControl = control == p.profile.Control && !p.hideControl
	hasTelemetry = telemetry == p.profile.Telemetry && !p.hideTelemetry
	return hasControl, hasTelemetry, nil
}

func (p *Peripheral) writeCCCD(t *Transport, char uuid.UUID, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cccd, ok := p.links[t]
	if !ok {
		return ErrUnknownAddress
	}
	return cccd.write(char, value)
}

// handleWrite runs the firmware's command handler
func (p *Peripheral) handleWrite(t *Transport, char uuid.UUID, frame []byte) error {
	if char != p.profile.Control {
		return ErrNoSuchChar
	}

	p.mu.Lock()
	if _, ok := p.links[t]; !ok {
		p.mu.Unlock()
		return ErrUnknownAddress
	}
	p.writes = append(p.writes, append([]byte(nil), frame...))

	cmd, err := p.codec.Decode(frame)
	if err != nil {
		p.rejectedFrames++
		p.mu.Unlock()
		logger.Warn(p.logPrefix(), "⚠️  rejected frame %x: %v", frame, err)
		// The firmware acknowledges at the ATT layer but ignores the command.
		return nil
	}

	var text string
	switch cmd {
	case protocol.CommandOpen:
		p.open = true
		text = TextOpened
	case protocol.CommandClose:
		p.open = false
		text = TextClosed
	}
	p.mu.Unlock()

	logger.Debug(p.logPrefix(), "🪟 command %s -> %q", cmd, text)
	p.Notify(text)
	return nil
}

func (p *Peripheral) logPrefix() string {
	return fmt.Sprintf("%s sim", p.address)
}
