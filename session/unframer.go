package session

import (
	"encoding/binary"

	"github.com/wippyai/micro-rpc/errors"
)

type unframerState uint8

const (
	findPacketStart unframerState = iota
	readLength
	readPayload
	readCRC
)

// Unframer is the receive side of the framing codec: a resumable state
// machine fed arbitrary byte slices by an external driver. Unescaped
// payload bytes are forwarded to the WriteStream as they arrive, and
// PacketDone reports CRC validity once the footer is in.
type Unframer struct {
	stream    WriteStream
	state     unframerState
	sawEscape bool

	crc       uint16
	field     [lengthFieldBytes]byte
	fieldLen  int
	remaining int

	chunk    [64]byte
	chunkLen int
}

// NewUnframer wraps stream. The unframer starts hunting for a packet
// start marker and ignores everything before it.
func NewUnframer(stream WriteStream) *Unframer {
	return &Unframer{stream: stream}
}

// Write consumes data into the state machine. It returns the number of
// bytes processed; on a stream write failure the current packet is
// abandoned and the remaining input is left unconsumed.
func (u *Unframer) Write(data []byte) (int, error) {
	for i, c := range data {
		if err := u.consume(c); err != nil {
			u.abandonPacket()
			return i, err
		}
	}
	if err := u.flushChunk(); err != nil {
		u.abandonPacket()
		return len(data), err
	}
	return len(data), nil
}

func (u *Unframer) consume(c byte) error {
	if u.state == findPacketStart {
		u.scanForStart(c)
		return nil
	}

	if u.sawEscape {
		u.sawEscape = false
		switch c {
		case packetStart:
			// Unexpected restart marker mid-packet: the current packet
			// can never complete. Drop it and begin parsing the new one.
			Logger().Warn("packet restarted mid-frame")
			u.chunkLen = 0
			u.stream.PacketDone(false)
			u.beginPacket()
			return nil
		case escapeNop:
			return nil
		case escapeByte:
			return u.literal(escapeByte)
		default:
			// Line corruption; the packet cannot be trusted. Hunt for
			// the next start marker.
			Logger().Warn("unknown escape sequence, dropping packet")
			u.abandonPacket()
			return nil
		}
	}

	if c == escapeByte {
		u.sawEscape = true
		return nil
	}
	return u.literal(c)
}

func (u *Unframer) scanForStart(c byte) {
	if u.sawEscape {
		u.sawEscape = false
		if c == packetStart {
			u.beginPacket()
		} else if c == escapeByte {
			u.sawEscape = true
		}
		return
	}
	if c == escapeByte {
		u.sawEscape = true
	}
}

func (u *Unframer) beginPacket() {
	u.state = readLength
	u.crc = crcInit
	u.fieldLen = 0
	u.chunkLen = 0
}

func (u *Unframer) literal(c byte) error {
	switch u.state {
	case readLength:
		u.crc = crc16Update(u.crc, []byte{c})
		u.field[u.fieldLen] = c
		u.fieldLen++
		if u.fieldLen == lengthFieldBytes {
			u.remaining = int(binary.LittleEndian.Uint32(u.field[:]))
			u.fieldLen = 0
			if u.remaining == 0 {
				u.state = readCRC
			} else {
				u.state = readPayload
			}
		}
		return nil

	case readPayload:
		u.crc = crc16Update(u.crc, []byte{c})
		u.chunk[u.chunkLen] = c
		u.chunkLen++
		u.remaining--
		if u.chunkLen == len(u.chunk) || u.remaining == 0 {
			if err := u.flushChunk(); err != nil {
				return err
			}
		}
		if u.remaining == 0 {
			u.state = readCRC
			u.fieldLen = 0
		}
		return nil

	case readCRC:
		u.field[u.fieldLen] = c
		u.fieldLen++
		if u.fieldLen == crcFieldBytes {
			valid := binary.LittleEndian.Uint16(u.field[:crcFieldBytes]) == u.crc
			if !valid {
				Logger().Warn("packet checksum mismatch")
			}
			u.stream.PacketDone(valid)
			u.state = findPacketStart
			u.fieldLen = 0
		}
		return nil

	default:
		return errors.InvalidState(errors.PhaseFrame, "unframer in unknown state")
	}
}

func (u *Unframer) flushChunk() error {
	if u.chunkLen == 0 {
		return nil
	}
	n, err := u.stream.Write(u.chunk[:u.chunkLen])
	if err != nil {
		return errors.Wrap(errors.PhaseFrame, errors.KindShortWrite, err, "receive stream rejected payload")
	}
	if n != u.chunkLen {
		return errors.ShortWrite(errors.PhaseFrame, n, u.chunkLen)
	}
	u.chunkLen = 0
	return nil
}

// abandonPacket drops the in-flight packet so a failed stream write does
// not leave half a payload to be misdelivered later.
func (u *Unframer) abandonPacket() {
	u.state = findPacketStart
	u.sawEscape = false
	u.chunkLen = 0
	u.fieldLen = 0
}
