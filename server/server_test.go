package server

import (
	"bytes"
	"testing"

	"github.com/wippyai/micro-rpc/packed"
	"github.com/wippyai/micro-rpc/session"
)

// pipe forwards the server's outbound frames to the host's unframer,
// which only exists after both endpoints are constructed.
type pipe struct {
	u *session.Unframer
}

func (p *pipe) Write(b []byte) (int, error) {
	return p.u.Write(b)
}

type hostEnd struct {
	sess    *session.Session
	replies [][]byte
}

func (h *hostEnd) onMessage(ty session.MessageType, body *session.Buffer) {
	if ty == session.MessageTypeNormal {
		h.replies = append(h.replies, append([]byte{}, body.Bytes()...))
	}
	h.sess.ClearReceiveBuffer()
}

// newTestRig wires a server to an in-process host session. The host
// writes frames straight into the server, and the server's frames feed
// the host's unframer.
func newTestRig(t *testing.T) (*Server, *hostEnd) {
	t.Helper()
	p := &pipe{}
	srv := New(p, Config{InitialNonce: 0x10})
	host := &hostEnd{}
	host.sess = session.New(srv, 0x60, 256)
	host.sess.OnMessage(host.onMessage)
	p.u = session.NewUnframer(host.sess.Receiver())

	if err := host.sess.StartSession(); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !host.sess.IsEstablished() || !srv.Session().IsEstablished() {
		t.Fatalf("handshake incomplete: host=%v server=%v",
			host.sess.State(), srv.Session().State())
	}
	return srv, host
}

func callStatus(t *testing.T, host *hostEnd, req []byte) byte {
	t.Helper()
	before := len(host.replies)
	if err := host.sess.SendMessage(session.MessageTypeNormal, req); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(host.replies) != before+1 || len(host.replies[before]) != 1 {
		t.Fatalf("replies = %v, want one status byte", host.replies[before:])
	}
	return host.replies[before][0]
}

func TestServerDispatch(t *testing.T) {
	srv, host := newTestRig(t)

	var gotValues []packed.Value
	var gotCodes []packed.TypeCode
	add := func(values []packed.Value, codes []packed.TypeCode, _ []packed.Value, _ []packed.TypeCode) int32 {
		gotValues = append([]packed.Value{}, values...)
		gotCodes = append([]packed.TypeCode{}, codes...)
		return 0
	}
	if err := srv.Registry().Set("add", add, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	values := []packed.Value{packed.Int64Value(2), packed.Float64Value(3.5)}
	codes := []packed.TypeCode{packed.TypeCodeInt, packed.TypeCodeFloat}
	status := callStatus(t, host, EncodeCall("add", values, codes))
	if status != StatusOK {
		t.Fatalf("status = %d, want OK", status)
	}
	if len(gotValues) != 2 || gotValues[0].Int64() != 2 || gotValues[1].Float64() != 3.5 {
		t.Fatalf("entry saw values %v", gotValues)
	}
	if gotCodes[0] != packed.TypeCodeInt || gotCodes[1] != packed.TypeCodeFloat {
		t.Fatalf("entry saw codes %v", gotCodes)
	}
}

func TestServerUnknownFunction(t *testing.T) {
	_, host := newTestRig(t)

	status := callStatus(t, host, EncodeCall("missing", nil, nil))
	if status != StatusFunctionNotFound {
		t.Fatalf("status = %d, want function-not-found", status)
	}
}

func TestServerMalformedRequests(t *testing.T) {
	srv, host := newTestRig(t)

	noop := func(_ []packed.Value, _ []packed.TypeCode, _ []packed.Value, _ []packed.TypeCode) int32 {
		return 0
	}
	if err := srv.Registry().Set("noop", noop, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tests := []struct {
		name string
		req  []byte
	}{
		{"empty", []byte{}},
		{"no name terminator", []byte("noop")},
		{"empty name", []byte{0, 0}},
		{"missing count", append([]byte("noop"), 0)},
		{"truncated args", append([]byte("noop"), 0, 2, 0, 1)},
		{"trailing garbage", append(EncodeCall("noop", nil, nil), 0xEE)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status := callStatus(t, host, tt.req); status != StatusMalformedRequest {
				t.Errorf("status = %d, want malformed-request", status)
			}
		})
	}
}

func TestServerTooManyArguments(t *testing.T) {
	srv, host := newTestRig(t)

	noop := func(_ []packed.Value, _ []packed.TypeCode, _ []packed.Value, _ []packed.TypeCode) int32 {
		return 0
	}
	if err := srv.Registry().Set("noop", noop, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	values := make([]packed.Value, packed.MaxArgs+1)
	codes := make([]packed.TypeCode, packed.MaxArgs+1)
	status := callStatus(t, host, EncodeCall("noop", values, codes))
	if status != StatusTooManyArguments {
		t.Fatalf("status = %d, want too-many-arguments", status)
	}
}

func TestServerEntryFailure(t *testing.T) {
	srv, host := newTestRig(t)

	failing := func(_ []packed.Value, _ []packed.TypeCode, _ []packed.Value, _ []packed.TypeCode) int32 {
		return -7
	}
	if err := srv.Registry().Set("fail", failing, false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	status := callStatus(t, host, EncodeCall("fail", nil, nil))
	if status != StatusKernelError {
		t.Fatalf("status = %d, want kernel-error", status)
	}
}

func TestServerIgnoresPeerLogs(t *testing.T) {
	_, host := newTestRig(t)

	before := len(host.replies)
	if err := host.sess.SendMessage(session.MessageTypeLog, []byte("host side note")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(host.replies) != before {
		t.Fatalf("log message produced a reply: %v", host.replies[before:])
	}
}

func TestEncodeCallLayout(t *testing.T) {
	req := EncodeCall("f", []packed.Value{packed.Int64Value(1)}, []packed.TypeCode{packed.TypeCodeInt})
	want := []byte{'f', 0, 1, byte(packed.TypeCodeInt), 1, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(req, want) {
		t.Fatalf("EncodeCall = %x, want %x", req, want)
	}
}
