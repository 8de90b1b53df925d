// Package protocol frames window-controller commands into the 2-byte wire format
// understood by the peripheral firmware.
//
// The XOR step is obfuscation against casual tampering and the checksum is an
// integrity check. Neither provides confidentiality.
package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSecret is the shared obfuscation byte burned into the peripheral firmware.
const DefaultSecret byte = 0x5A

// PacketSize is the length of a framed single-character command.
const PacketSize = 2

var (
	ErrUnknownCommand   = errors.New("protocol: unknown command")
	ErrShortFrame       = errors.New("protocol: frame too short")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
)

// Command is one of the window actions, stored as its plaintext byte.
type Command byte

const (
	CommandClose Command = 'a'
	CommandOpen  Command = 'b'
)

// Commands lists every command the peripheral accepts.
var Commands = []Command{CommandOpen, CommandClose}

func (c Command) String() string {
	switch c {
	case CommandOpen:
		return "open"
	case CommandClose:
		return "close"
	default:
		return fmt.Sprintf("command(0x%02x)", byte(c))
	}
}

// Byte returns the plaintext byte sent (after obfuscation) for this command.
func (c Command) Byte() byte { return byte(c) }

// Valid reports whether c belongs to the command set.
func (c Command) Valid() bool {
	return c == CommandOpen || c == CommandClose
}

// ParseCommand accepts either the command name or its plaintext character.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "abrir", string(CommandOpen):
		return CommandOpen, nil
	case "close", "cerrar", string(CommandClose):
		return CommandClose, nil
	}
	return 0, errors.Wrapf(ErrUnknownCommand, "%q", s)
}

// SecurePacket is a framed command. It is produced once per send attempt.
type SecurePacket struct {
	Payload  byte
	Checksum byte
}

// Bytes returns the wire form: payload followed by checksum.
func (p SecurePacket) Bytes() []byte {
	return []byte{p.Payload, p.Checksum}
}

func (p SecurePacket) String() string {
	return fmt.Sprintf("[0x%02X 0x%02X]", p.Payload, p.Checksum)
}

// Checksum sums bytes as unsigned 8-bit values modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Codec encodes commands with a fixed shared secret.
type Codec struct {
	secret byte
}

// NewCodec creates a codec for the given shared secret.
func NewCodec(secret byte) *Codec {
	return &Codec{secret: secret}
}

// Obfuscate XORs b with the shared secret. Applying it twice yields b again.
func (c *Codec) Obfuscate(b byte) byte {
	return b ^ c.secret
}

// Encode frames cmd. Identical input always yields identical output.
func (c *Codec) Encode(cmd Command) SecurePacket {
	payload := c.Obfuscate(cmd.Byte())
	return SecurePacket{
		Payload:  payload,
		Checksum: Checksum([]byte{payload}),
	}
}

// Decode verifies and de-obfuscates a frame. Only the peripheral side needs this;
// the simulated peripheral uses it to act on writes.
func (c *Codec) Decode(frame []byte) (Command, error) {
	if len(frame) < PacketSize {
		return 0, ErrShortFrame
	}
	payload := frame[:len(frame)-1]
	if Checksum(payload) != frame[len(frame)-1] {
		return 0, ErrChecksumMismatch
	}
	if len(payload) != 1 {
		return 0, errors.Wrapf(ErrUnknownCommand, "%d-byte payload", len(payload))
	}
	cmd := Command(c.Obfuscate(payload[0]))
	if !cmd.Valid() {
		return 0, errors.Wrapf(ErrUnknownCommand, "0x%02x", byte(cmd))
	}
	return cmd, nil
}
