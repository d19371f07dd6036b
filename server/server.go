// Package server glues the session, framing, and registry layers into a
// device-side RPC endpoint. Transport bytes go in through Write, call
// requests are dispatched to registered entry points, and a one-byte
// status reply goes back over the session.
//
// The request body is deliberately minimal, not a marshalling format:
// a NUL-terminated function name, an argument count byte, then per
// argument one type-code byte and a little-endian 64-bit value word.
package server

import (
	"bytes"
	"encoding/binary"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/micro-rpc/packed"
	"github.com/wippyai/micro-rpc/registry"
	"github.com/wippyai/micro-rpc/session"
)

// Reply status codes. StatusOK means the entry point ran and returned
// zero; the other codes report why it did not.
const (
	StatusOK               byte = 0
	StatusMalformedRequest byte = 1
	StatusFunctionNotFound byte = 2
	StatusTooManyArguments byte = 3
	StatusKernelError      byte = 4
)

const argRecordBytes = 1 + 8 // type-code byte + value word

// Config sizes a server's fixed buffers.
type Config struct {
	// InitialNonce seeds session id generation. Give distinct endpoints
	// distinct nonces.
	InitialNonce uint8
	// ReceiveBufferSize bounds the largest receivable message including
	// its 3-byte header. Defaults to 1024.
	ReceiveBufferSize int
	// ArenaSize is the function directory arena in bytes. Defaults to 512.
	ArenaSize int
}

func (c Config) withDefaults() Config {
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = 1024
	}
	if c.ArenaSize <= 0 {
		c.ArenaSize = 512
	}
	return c
}

// Server is the device-side endpoint. It is single-threaded like the
// layers under it: one goroutine drives Write and everything that
// happens downstream of it.
type Server struct {
	sess     *session.Session
	unframer *session.Unframer
	reg      *registry.MutableRegistry
}

// New builds a server whose outbound frames are written to w.
func New(w io.Writer, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{}
	s.sess = session.New(w, cfg.InitialNonce, cfg.ReceiveBufferSize)
	s.sess.OnMessage(s.onMessage)
	s.unframer = session.NewUnframer(s.sess.Receiver())
	s.reg = registry.NewMutable(make([]byte, cfg.ArenaSize))
	return s
}

// Registry exposes the function directory for registration.
func (s *Server) Registry() *registry.MutableRegistry {
	return s.reg
}

// Session exposes the underlying session, mainly for state inspection
// and outbound log messages.
func (s *Server) Session() *session.Session {
	return s.sess
}

// StartSession initiates the handshake with the peer.
func (s *Server) StartSession() error {
	return s.sess.StartSession()
}

// Write feeds raw transport bytes into the receive path. It implements
// io.Writer so a transport read loop can copy straight into the server.
func (s *Server) Write(data []byte) (int, error) {
	return s.unframer.Write(data)
}

func (s *Server) onMessage(ty session.MessageType, body *session.Buffer) {
	defer s.sess.ClearReceiveBuffer()

	switch ty {
	case session.MessageTypeStartSession:
		Logger().Info("session established", zap.Uint16("session_id", s.sess.ID()))

	case session.MessageTypeLog:
		Logger().Info("peer log", zap.ByteString("message", body.Bytes()))

	case session.MessageTypeNormal:
		status := s.dispatch(body.Bytes())
		if err := s.sess.SendMessage(session.MessageTypeNormal, []byte{status}); err != nil {
			Logger().Error("status reply failed", zap.Error(err))
		}

	default:
		Logger().Warn("unknown message type", zap.Uint8("type", uint8(ty)))
	}
}

// dispatch parses one call request and runs the named entry point.
func (s *Server) dispatch(req []byte) byte {
	nameEnd := bytes.IndexByte(req, 0)
	if nameEnd <= 0 {
		return StatusMalformedRequest
	}
	name := string(req[:nameEnd])

	rest := req[nameEnd+1:]
	if len(rest) < 1 {
		return StatusMalformedRequest
	}
	count := int(rest[0])
	rest = rest[1:]
	if len(rest) != count*argRecordBytes {
		return StatusMalformedRequest
	}
	if count > packed.MaxArgs {
		return StatusTooManyArguments
	}

	values := make([]packed.Value, count)
	codes := make([]packed.TypeCode, count)
	for i := 0; i < count; i++ {
		rec := rest[i*argRecordBytes:]
		codes[i] = packed.TypeCode(rec[0])
		values[i] = packed.Value(binary.LittleEndian.Uint64(rec[1:9]))
	}

	idx, err := s.reg.Lookup(name)
	if err != nil {
		Logger().Warn("call to unknown function", zap.String("name", name))
		return StatusFunctionNotFound
	}
	entry, err := s.reg.GetByIndex(idx)
	if err != nil {
		return StatusFunctionNotFound
	}

	status, err := packed.Invoke(entry, values, codes)
	if err != nil {
		return StatusMalformedRequest
	}
	if status != 0 {
		Logger().Warn("entry point failed",
			zap.String("name", name),
			zap.Int32("status", status))
		return StatusKernelError
	}
	return StatusOK
}

// EncodeCall builds a request body for the minimal call scheme. It is
// the host-side counterpart of dispatch.
func EncodeCall(name string, values []packed.Value, codes []packed.TypeCode) []byte {
	req := make([]byte, 0, len(name)+2+len(values)*argRecordBytes)
	req = append(req, name...)
	req = append(req, 0, byte(len(values)))
	var word [8]byte
	for i, v := range values {
		req = append(req, byte(codes[i]))
		binary.LittleEndian.PutUint64(word[:], uint64(v))
		req = append(req, word[:]...)
	}
	return req
}
