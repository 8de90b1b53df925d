package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestEncodeOpenMatchesFirmwareFrame(t *testing.T) {
	codec := NewCodec(DefaultSecret)

	pkt := codec.Encode(CommandOpen)
	want := []byte{0x62 ^ 0x5A, 0x38}
	if !bytes.Equal(pkt.Bytes(), want) {
		t.Fatalf("Encode(open) = %v, want %x", pkt, want)
	}
	if pkt.Payload != 0x38 || pkt.Checksum != 0x38 {
		t.Errorf("unexpected packet fields: %v", pkt)
	}
}

func TestEncodeClose(t *testing.T) {
	codec := NewCodec(DefaultSecret)

	pkt := codec.Encode(CommandClose)
	if pkt.Payload != 0x61^0x5A {
		t.Errorf("payload = 0x%02X, want 0x%02X", pkt.Payload, 0x61^0x5A)
	}
	if pkt.Checksum != pkt.Payload {
		t.Errorf("single-byte checksum should equal payload, got %v", pkt)
	}
}

func TestXORIsSelfInverse(t *testing.T) {
	codec := NewCodec(DefaultSecret)
	for _, cmd := range Commands {
		pkt := codec.Encode(cmd)
		if got := pkt.Payload ^ DefaultSecret; got != cmd.Byte() {
			t.Errorf("%s: de-obfuscated 0x%02X, want 0x%02X", cmd, got, cmd.Byte())
		}
		if got := codec.Obfuscate(codec.Obfuscate(cmd.Byte())); got != cmd.Byte() {
			t.Errorf("%s: double obfuscation = 0x%02X", cmd, got)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := NewCodec(DefaultSecret)
	b := NewCodec(DefaultSecret)
	for _, cmd := range Commands {
		if a.Encode(cmd) != b.Encode(cmd) || a.Encode(cmd) != a.Encode(cmd) {
			t.Errorf("%s: encode is not deterministic", cmd)
		}
	}
}

func TestChecksumWrapsModulo256(t *testing.T) {
	if got := Checksum([]byte{0xFF, 0x02}); got != 0x01 {
		t.Errorf("Checksum wrap = 0x%02X, want 0x01", got)
	}
	if got := Checksum(nil); got != 0 {
		t.Errorf("Checksum(nil) = 0x%02X, want 0", got)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		payload := make([]byte, 1+rng.Intn(32))
		rng.Read(payload)
		frame := append(append([]byte{}, payload...), Checksum(payload))

		if Checksum(frame[:len(frame)-1]) != frame[len(frame)-1] {
			t.Fatalf("recomputed checksum differs for %x", frame)
		}
	}
}

func TestSingleBitFlipDetection(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const trials = 2000
	detected := 0
	for i := 0; i < trials; i++ {
		payload := make([]byte, 1+rng.Intn(16))
		rng.Read(payload)
		frame := append(append([]byte{}, payload...), Checksum(payload))

		pos := rng.Intn(len(frame))
		frame[pos] ^= 1 << uint(rng.Intn(8))

		if Checksum(frame[:len(frame)-1]) != frame[len(frame)-1] {
			detected++
		}
	}
	if rate := float64(detected) / trials; rate < 255.0/256.0 {
		t.Errorf("detection rate %.4f below 255/256", rate)
	}
}

func TestDecode(t *testing.T) {
	codec := NewCodec(DefaultSecret)

	for _, cmd := range Commands {
		got, err := codec.Decode(codec.Encode(cmd).Bytes())
		if err != nil {
			t.Fatalf("Decode(%s): %v", cmd, err)
		}
		if got != cmd {
			t.Errorf("Decode = %s, want %s", got, cmd)
		}
	}

	if _, err := codec.Decode([]byte{0x38}); !errors.Is(err, ErrShortFrame) {
		t.Errorf("short frame error = %v", err)
	}
	if _, err := codec.Decode([]byte{0x38, 0x39}); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("corrupt frame error = %v", err)
	}
	if _, err := codec.Decode([]byte{0x00, 0x00}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command error = %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	cases := map[string]Command{
		"open":   CommandOpen,
		" OPEN ": CommandOpen,
		"b":      CommandOpen,
		"cerrar": CommandClose,
		"close":  CommandClose,
		"a":      CommandClose,
	}
	for in, want := range cases {
		got, err := ParseCommand(in)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseCommand(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseCommand("toggle"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}
