package main

import (
	"bytes"
	"testing"

	"go.uber.org/zap"

	"github.com/wippyai/micro-rpc/server"
	"github.com/wippyai/micro-rpc/session"
)

// TestServeSurvivesReceiveErrors streams an oversized message followed
// by a valid handshake: the loop must log and resynchronize rather than
// give up, so the handshake still completes.
func TestServeSurvivesReceiveErrors(t *testing.T) {
	var out bytes.Buffer
	srv := server.New(&out, server.Config{
		InitialNonce:      0x10,
		ReceiveBufferSize: 16,
	})

	// A peer that first sends a log message far larger than the
	// server's receive buffer, then initiates a session.
	var stream bytes.Buffer
	peer := session.New(&stream, 0x60, 0)
	if err := peer.SendMessage(session.MessageTypeLog, bytes.Repeat([]byte{'a'}, 64)); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := peer.StartSession(); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := serve(&stream, srv, zap.NewNop()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !srv.Session().IsEstablished() {
		t.Fatalf("session state = %v, want established after resync", srv.Session().State())
	}
	if out.Len() == 0 {
		t.Fatal("no start-session reply written")
	}
}

func TestServeCleanStream(t *testing.T) {
	var out bytes.Buffer
	srv := server.New(&out, server.Config{InitialNonce: 0x10})

	var stream bytes.Buffer
	peer := session.New(&stream, 0x60, 0)
	if err := peer.StartSession(); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := serve(&stream, srv, zap.NewNop()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !srv.Session().IsEstablished() {
		t.Fatalf("session state = %v, want established", srv.Session().State())
	}
}
