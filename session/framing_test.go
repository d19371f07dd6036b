package session

import (
	"bytes"
	"testing"
)

// collector is a WriteStream that records delivered payload bytes and
// packet completion results.
type collector struct {
	payload bytes.Buffer
	done    []bool
}

func (c *collector) Write(data []byte) (int, error) {
	return c.payload.Write(data)
}

func (c *collector) PacketDone(valid bool) {
	c.done = append(c.done, valid)
}

func framePacket(t *testing.T, payload []byte) []byte {
	t.Helper()
	var wire bytes.Buffer
	f := NewFramer(&wire)
	if err := f.StartPacket(len(payload)); err != nil {
		t.Fatalf("StartPacket: %v", err)
	}
	if len(payload) > 0 {
		if err := f.WritePayloadChunk(payload); err != nil {
			t.Fatalf("WritePayloadChunk: %v", err)
		}
	}
	if err := f.FinishPacket(); err != nil {
		t.Fatalf("FinishPacket: %v", err)
	}
	return wire.Bytes()
}

func TestFramingRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		{0xFF, 0xFF, 0xFD, 0xFE, 0xFF}, // exercise escape stuffing
		bytes.Repeat([]byte{0xAB}, 300), // spans multiple forward chunks
	}

	for _, payload := range payloads {
		var c collector
		u := NewUnframer(&c)
		wire := framePacket(t, payload)
		if n, err := u.Write(wire); err != nil || n != len(wire) {
			t.Fatalf("Unframer.Write = %d, %v", n, err)
		}
		if len(c.done) != 1 || !c.done[0] {
			t.Fatalf("payload %x: done = %v, want one valid packet", payload, c.done)
		}
		if !bytes.Equal(c.payload.Bytes(), payload) {
			t.Fatalf("payload %x: got %x", payload, c.payload.Bytes())
		}
	}
}

func TestFramingByteAtATime(t *testing.T) {
	payload := []byte{0x01, 0xFF, 0x02, 0xFF, 0xFF}
	wire := framePacket(t, payload)

	var c collector
	u := NewUnframer(&c)
	for _, b := range wire {
		if _, err := u.Write([]byte{b}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if len(c.done) != 1 || !c.done[0] {
		t.Fatalf("done = %v, want one valid packet", c.done)
	}
	if !bytes.Equal(c.payload.Bytes(), payload) {
		t.Fatalf("payload = %x, want %x", c.payload.Bytes(), payload)
	}
}

func TestFramingChecksumMismatch(t *testing.T) {
	wire := framePacket(t, []byte("corrupt me"))
	// Flip a payload bit. The payload starts after the 3-byte packet
	// leader (nop escape is only emitted before the first packet, which
	// this is, so skip 2+2+4 framing bytes).
	wire[9] ^= 0x01

	var c collector
	u := NewUnframer(&c)
	if _, err := u.Write(wire); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(c.done) != 1 || c.done[0] {
		t.Fatalf("done = %v, want one invalid packet", c.done)
	}
}

func TestFramingGarbageBeforeStart(t *testing.T) {
	payload := []byte("after noise")
	wire := append([]byte{0x00, 0x13, 0x37, 0xFF, 0xFE}, framePacket(t, payload)...)

	var c collector
	u := NewUnframer(&c)
	if _, err := u.Write(wire); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(c.done) != 1 || !c.done[0] {
		t.Fatalf("done = %v, want one valid packet", c.done)
	}
	if !bytes.Equal(c.payload.Bytes(), payload) {
		t.Fatalf("payload = %q", c.payload.Bytes())
	}
}

func TestFramingRestartMidPacket(t *testing.T) {
	first := framePacket(t, []byte("interrupted"))
	second := framePacket(t, []byte("complete"))

	// Truncate the first packet mid-payload and splice in the second.
	wire := append(append([]byte{}, first[:10]...), second...)

	var c collector
	u := NewUnframer(&c)
	if _, err := u.Write(wire); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(c.done) != 2 || c.done[0] || !c.done[1] {
		t.Fatalf("done = %v, want [false true]", c.done)
	}
	if !bytes.Contains(c.payload.Bytes(), []byte("complete")) {
		t.Fatalf("second payload not delivered: %q", c.payload.Bytes())
	}
}

func TestFramerDeclaredSizeEnforced(t *testing.T) {
	var wire bytes.Buffer
	f := NewFramer(&wire)

	if err := f.StartPacket(4); err != nil {
		t.Fatalf("StartPacket: %v", err)
	}
	if err := f.WritePayloadChunk([]byte("toolong")); err == nil {
		t.Fatal("oversized chunk accepted")
	}

	// Framer resets after the violation; a fresh packet still works.
	if err := f.StartPacket(2); err != nil {
		t.Fatalf("StartPacket after reset: %v", err)
	}
	if err := f.WritePayloadChunk([]byte("ok")); err != nil {
		t.Fatalf("WritePayloadChunk: %v", err)
	}
	if err := f.FinishPacket(); err != nil {
		t.Fatalf("FinishPacket: %v", err)
	}
}

func TestFramerOutOfSequence(t *testing.T) {
	var wire bytes.Buffer
	f := NewFramer(&wire)

	if err := f.WritePayloadChunk([]byte("x")); err == nil {
		t.Fatal("chunk accepted with no packet in progress")
	}
	if err := f.FinishPacket(); err == nil {
		t.Fatal("finish accepted with no packet in progress")
	}

	if err := f.StartPacket(2); err != nil {
		t.Fatalf("StartPacket: %v", err)
	}
	if err := f.StartPacket(2); err == nil {
		t.Fatal("second StartPacket accepted mid-packet")
	}

	// The in-flight packet is unaffected by the rejected start.
	if err := f.WritePayloadChunk([]byte("ok")); err != nil {
		t.Fatalf("WritePayloadChunk: %v", err)
	}
	if err := f.FinishPacket(); err != nil {
		t.Fatalf("FinishPacket: %v", err)
	}

	var c collector
	u := NewUnframer(&c)
	if _, err := u.Write(wire.Bytes()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(c.done) != 1 || !c.done[0] || !bytes.Equal(c.payload.Bytes(), []byte("ok")) {
		t.Fatalf("done = %v payload = %q", c.done, c.payload.Bytes())
	}
}

func TestFramerUnderfilledPacket(t *testing.T) {
	var wire bytes.Buffer
	f := NewFramer(&wire)

	if err := f.StartPacket(4); err != nil {
		t.Fatalf("StartPacket: %v", err)
	}
	if err := f.WritePayloadChunk([]byte("ab")); err != nil {
		t.Fatalf("WritePayloadChunk: %v", err)
	}
	if err := f.FinishPacket(); err == nil {
		t.Fatal("underfilled packet finished without error")
	}
}

func TestCRC16KnownValue(t *testing.T) {
	// CRC-16/CCITT-FALSE of "123456789" is the standard check value.
	got := crc16Update(crcInit, []byte("123456789"))
	if got != 0x29B1 {
		t.Fatalf("crc16 = %#04x, want 0x29b1", got)
	}
}
