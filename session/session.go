package session

import (
	"encoding/binary"
	"io"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/micro-rpc/errors"
)

// MessageType is the kind byte carried in every message header.
type MessageType uint8

const (
	// MessageTypeStartSession initiates or acknowledges a handshake.
	MessageTypeStartSession MessageType = 0x00
	// MessageTypeLog carries free-form diagnostics. Log messages with
	// session id zero are deliverable in any state.
	MessageTypeLog MessageType = 0x01
	// MessageTypeNormal carries application traffic and requires an
	// established session.
	MessageTypeNormal MessageType = 0x10
)

// HeaderSize is the length of the message header: a little-endian 16-bit
// session id followed by the type byte.
const HeaderSize = 3

// Header is the per-message envelope.
type Header struct {
	SessionID uint16
	Type      MessageType
}

// State tracks handshake progress.
type State uint8

const (
	// StateReset means no handshake is in flight.
	StateReset State = iota
	// StateStartSessionSent means this side initiated and awaits a reply.
	StateStartSessionSent
	// StateEstablished means both sides agree on the session id.
	StateEstablished
)

// MessageFunc is invoked for each deliverable message. The buffer holds
// the message body with the header already consumed; the receiver must
// call ClearReceiveBuffer once it is done with it.
type MessageFunc func(ty MessageType, body *Buffer)

// Session implements the handshake and message layer above the framer.
// It is single-threaded: one goroutine drives both the receive path and
// any sends performed from the message callback.
type Session struct {
	framer    *Framer
	recv      *Buffer
	onMessage MessageFunc

	nonce     uint8
	state     State
	sessionID uint16

	hasCompleteMessage bool
	receiver           sessionReceiver
}

// New builds a session around the given transport writer. initialNonce
// seeds session id generation; distinct endpoints should use distinct
// nonces so simultaneous handshakes resolve. recvCapacity bounds the
// largest receivable message including its header; a capacity of zero
// makes the session send-only.
func New(w io.Writer, initialNonce uint8, recvCapacity int) *Session {
	s := &Session{
		framer: NewFramer(w),
		nonce:  initialNonce,
	}
	if recvCapacity > 0 {
		s.recv = NewBuffer(recvCapacity)
	}
	s.receiver.s = s
	return s
}

// OnMessage installs the message delivery callback.
func (s *Session) OnMessage(fn MessageFunc) {
	s.onMessage = fn
}

// State returns the current handshake state.
func (s *Session) State() State {
	return s.state
}

// ID returns the negotiated session id. It is only meaningful once the
// session is established.
func (s *Session) ID() uint16 {
	return s.sessionID
}

// IsEstablished reports whether the handshake has completed.
func (s *Session) IsEstablished() bool {
	return s.state == StateEstablished
}

// Receiver returns the sink to feed with unframed transport bytes. Wire
// it to an Unframer driven by the byte source.
func (s *Session) Receiver() WriteStream {
	return &s.receiver
}

// StartSession initiates a handshake. A fresh nonce is generated so a
// rebooted endpoint does not resume a stale session, and the initiation
// id is sent in a zero-body start-session message.
func (s *Session) StartSession() error {
	s.regenerateNonce()
	s.sessionID = initiationID(s.nonce)
	s.state = StateStartSessionSent
	if err := s.sendHeaderOnly(MessageTypeStartSession); err != nil {
		s.state = StateReset
		return err
	}
	return nil
}

// StartMessage begins an outgoing message with the given body length.
// Normal messages require an established session; log messages do not.
func (s *Session) StartMessage(ty MessageType, bodyLen int) error {
	if ty == MessageTypeNormal && s.state != StateEstablished {
		return errors.InvalidState(errors.PhaseSession, "session not established")
	}
	if err := s.framer.StartPacket(HeaderSize + bodyLen); err != nil {
		return err
	}
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[:2], s.sessionID)
	hdr[2] = byte(ty)
	return s.framer.WritePayloadChunk(hdr[:])
}

// SendBodyChunk streams part of the message body declared to StartMessage.
func (s *Session) SendBodyChunk(chunk []byte) error {
	return s.framer.WritePayloadChunk(chunk)
}

// FinishMessage completes the outgoing message.
func (s *Session) FinishMessage() error {
	return s.framer.FinishPacket()
}

// SendMessage sends a complete message in one call.
func (s *Session) SendMessage(ty MessageType, body []byte) error {
	if err := s.StartMessage(ty, len(body)); err != nil {
		return err
	}
	if len(body) > 0 {
		if err := s.SendBodyChunk(body); err != nil {
			return err
		}
	}
	return s.FinishMessage()
}

// ClearReceiveBuffer releases the receive buffer after the callback has
// consumed a delivered message, re-enabling reception.
func (s *Session) ClearReceiveBuffer() {
	s.hasCompleteMessage = false
	if s.recv != nil {
		s.recv.Clear()
	}
}

func (s *Session) sendHeaderOnly(ty MessageType) error {
	if err := s.framer.StartPacket(HeaderSize); err != nil {
		return err
	}
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[:2], s.sessionID)
	hdr[2] = byte(ty)
	if err := s.framer.WritePayloadChunk(hdr[:]); err != nil {
		return err
	}
	return s.framer.FinishPacket()
}

// regenerateNonce steps the nonce generator. Zero is reserved as the
// non-session id, so the sequence skips it.
func (s *Session) regenerateNonce() {
	s.nonce = bits.RotateLeft8(s.nonce, 5) + 1
	if s.nonce == 0 {
		s.nonce = 1
	}
}

// initiationID derives a handshake id from a nonce. The high byte is the
// complement of the low byte, which lets the peer distinguish a fresh
// initiation from a reply: replies carry the byte-swapped id, whose low
// byte is the complement and therefore fails the initiation test.
func initiationID(nonce uint8) uint16 {
	return uint16(nonce) | uint16(^nonce)<<8
}

func isInitiation(id uint16) bool {
	lo := uint8(id)
	hi := uint8(id >> 8)
	return lo != 0 && hi == ^lo
}

func swapBytes(id uint16) uint16 {
	return id>>8 | id<<8
}

// packetReceived handles one CRC-valid packet sitting in the receive
// buffer.
func (s *Session) packetReceived() {
	if s.recv.Size() < HeaderSize {
		Logger().Warn("dropping runt packet", zap.Int("size", s.recv.Size()))
		s.recv.Clear()
		return
	}
	var raw [HeaderSize]byte
	s.recv.Read(raw[:])
	hdr := Header{
		SessionID: binary.LittleEndian.Uint16(raw[:2]),
		Type:      MessageType(raw[2]),
	}

	if hdr.Type == MessageTypeStartSession {
		s.processStartSession(hdr.SessionID)
		return
	}

	if hdr.Type == MessageTypeLog && hdr.SessionID == 0 {
		s.deliver(hdr.Type)
		return
	}

	if s.state == StateEstablished && hdr.SessionID == s.sessionID {
		s.deliver(hdr.Type)
		return
	}

	Logger().Warn("dropping message outside session",
		zap.Uint16("session_id", hdr.SessionID),
		zap.Uint8("type", uint8(hdr.Type)))
	s.recv.Clear()
}

// processStartSession drives the handshake state machine for an incoming
// start-session message with the given id.
func (s *Session) processStartSession(id uint16) {
	switch s.state {
	case StateStartSessionSent:
		if id == swapBytes(s.sessionID) {
			// The peer accepted our initiation.
			s.sessionID = id
			s.establish()
			return
		}
		if isInitiation(id) {
			// Simultaneous initiation. Yield to the peer's id.
			s.replyAndEstablish(id)
			return
		}
		Logger().Warn("unexpected start-session reply", zap.Uint16("session_id", id))
		s.recv.Clear()

	case StateReset:
		if isInitiation(id) {
			s.replyAndEstablish(id)
			return
		}
		Logger().Warn("ignoring non-initiation start-session", zap.Uint16("session_id", id))
		s.recv.Clear()

	case StateEstablished:
		if id == s.sessionID {
			// Duplicate of the reply we already acted on.
			s.recv.Clear()
			return
		}
		// The peer restarted. Drop the session; the owner decides
		// whether to initiate again.
		Logger().Info("peer restarted session", zap.Uint16("session_id", id))
		s.state = StateReset
		s.sessionID = 0
		s.recv.Clear()
	}
}

func (s *Session) replyAndEstablish(id uint16) {
	s.sessionID = swapBytes(id)
	if err := s.sendHeaderOnly(MessageTypeStartSession); err != nil {
		Logger().Error("start-session reply failed", zap.Error(err))
		s.state = StateReset
		s.sessionID = 0
		s.recv.Clear()
		return
	}
	s.establish()
}

func (s *Session) establish() {
	s.state = StateEstablished
	Logger().Info("session established", zap.Uint16("session_id", s.sessionID))
	s.deliver(MessageTypeStartSession)
}

// deliver latches the receive buffer and invokes the callback. The latch
// is set before the callback so a reentrant send from the handler cannot
// race new inbound bytes into the buffer being read.
func (s *Session) deliver(ty MessageType) {
	s.hasCompleteMessage = true
	if s.onMessage != nil {
		s.onMessage(ty, s.recv)
		return
	}
	s.ClearReceiveBuffer()
}

// sessionReceiver adapts the session to the unframer's WriteStream.
type sessionReceiver struct {
	s *Session
}

func (r *sessionReceiver) Write(data []byte) (int, error) {
	s := r.s
	if s.recv == nil {
		return 0, errors.InvalidState(errors.PhaseSession, "session is send-only")
	}
	if s.hasCompleteMessage {
		return 0, errors.InvalidState(errors.PhaseSession, "previous message not yet consumed")
	}
	n := s.recv.Write(data)
	if n != len(data) {
		return n, errors.CapacityExceeded(errors.PhaseSession, "receive buffer full")
	}
	return n, nil
}

func (r *sessionReceiver) PacketDone(valid bool) {
	s := r.s
	if s.recv == nil || s.hasCompleteMessage {
		return
	}
	if !valid {
		s.recv.Clear()
		return
	}
	s.packetReceived()
}
