package session

import (
	"encoding/binary"
	"io"

	"github.com/wippyai/micro-rpc/errors"
)

// Byte-stuffing alphabet shared by Framer and Unframer.
const (
	escapeByte  = 0xFF // escape introducer; 0xFF 0xFF encodes a literal 0xFF
	packetStart = 0xFD // 0xFF 0xFD marks the start of a packet
	escapeNop   = 0xFE // 0xFF 0xFE is skipped; flushes a stale half-escape
)

// lengthFieldBytes and crcFieldBytes size the fixed packet fields.
const (
	lengthFieldBytes = 4
	crcFieldBytes    = 2
)

// WriteStream receives unescaped packet payload bytes from the Unframer
// and a completion signal once the CRC footer has been checked.
type WriteStream interface {
	Write(data []byte) (int, error)
	PacketDone(valid bool)
}

type framerState uint8

const (
	framerReset framerState = iota // emit a nop before the next packet
	framerIdle
	framerTransmitting
)

// Framer writes delimited, CRC-footed packets to an underlying byte
// transport. Packets may be emitted piecewise: StartPacket pins the
// declared payload size, WritePayloadChunk streams body bytes without
// buffering the whole message, and FinishPacket closes the frame.
type Framer struct {
	w         io.Writer
	state     framerState
	crc       uint16
	remaining int
}

// NewFramer wraps w. The first packet is preceded by a nop escape so a
// receiver mid-escape from a previous incarnation resynchronizes.
func NewFramer(w io.Writer) *Framer {
	return &Framer{w: w, state: framerReset}
}

// Reset forces the next packet to carry the resynchronization nop.
func (f *Framer) Reset() {
	f.state = framerReset
}

// StartPacket begins a packet with the given payload size. It fails if a
// previous packet has not been finished.
func (f *Framer) StartPacket(payloadSize int) error {
	if f.state == framerTransmitting {
		return errors.InvalidState(errors.PhaseFrame, "previous packet not finished")
	}

	var marker [3]byte
	n := 0
	if f.state == framerReset {
		marker[n] = escapeByte
		n++
		marker[n] = escapeNop
		n++
	}
	marker[n] = escapeByte
	n++
	if err := f.writeAll(marker[:n]); err != nil {
		return err
	}
	if err := f.writeAll([]byte{packetStart}); err != nil {
		return err
	}

	f.crc = crcInit
	var length [lengthFieldBytes]byte
	binary.LittleEndian.PutUint32(length[:], uint32(payloadSize))
	if err := f.writeEscaped(length[:]); err != nil {
		return err
	}

	f.remaining = payloadSize
	f.state = framerTransmitting
	return nil
}

// WritePayloadChunk streams part of the packet body. The cumulative chunk
// sizes must not exceed the size declared to StartPacket.
func (f *Framer) WritePayloadChunk(chunk []byte) error {
	if f.state != framerTransmitting {
		return errors.InvalidState(errors.PhaseFrame, "no packet in progress")
	}
	if len(chunk) > f.remaining {
		f.state = framerReset
		return errors.InvalidState(errors.PhaseFrame, "payload exceeds declared size")
	}
	if err := f.writeEscaped(chunk); err != nil {
		return err
	}
	f.remaining -= len(chunk)
	return nil
}

// FinishPacket validates that the declared size was filled and writes the
// CRC footer.
func (f *Framer) FinishPacket() error {
	if f.state != framerTransmitting {
		return errors.InvalidState(errors.PhaseFrame, "no packet in progress")
	}
	if f.remaining != 0 {
		f.state = framerReset
		return errors.InvalidState(errors.PhaseFrame, "declared payload size not filled")
	}

	var footer [crcFieldBytes]byte
	binary.LittleEndian.PutUint16(footer[:], f.crc)
	// The footer is escaped like payload but excluded from the CRC.
	if err := f.escapeAndWrite(footer[:]); err != nil {
		return err
	}
	f.state = framerIdle
	return nil
}

// writeEscaped folds data into the running CRC, then writes it with
// escape stuffing applied.
func (f *Framer) writeEscaped(data []byte) error {
	f.crc = crc16Update(f.crc, data)
	return f.escapeAndWrite(data)
}

func (f *Framer) escapeAndWrite(data []byte) error {
	var buf [128]byte
	n := 0
	for _, c := range data {
		if n >= len(buf)-1 {
			if err := f.writeAll(buf[:n]); err != nil {
				return err
			}
			n = 0
		}
		buf[n] = c
		n++
		if c == escapeByte {
			buf[n] = escapeByte
			n++
		}
	}
	return f.writeAll(buf[:n])
}

func (f *Framer) writeAll(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := f.w.Write(data)
	if err != nil {
		f.state = framerReset
		return errors.Wrap(errors.PhaseFrame, errors.KindShortWrite, err, "transport write failed")
	}
	if n != len(data) {
		f.state = framerReset
		return errors.ShortWrite(errors.PhaseFrame, n, len(data))
	}
	return nil
}
