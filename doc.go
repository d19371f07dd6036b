// Package microrpc is the device-side runtime for a minimal RPC channel
// used to invoke ML inference kernels on memory-constrained targets over
// a byte-oriented transport.
//
// # Architecture Overview
//
// The runtime is organized into packages with distinct responsibilities:
//
//	micro-rpc/
//	├── dtype/       Tensor element type descriptors and name parsing
//	├── packed/      Tagged-value calling convention for entry points
//	├── registry/    Name-indexed function directory in a byte arena
//	├── session/     Handshake state machine and byte-stuffed framing
//	├── server/      Device endpoint gluing session, framing, registry
//	├── kernel/      Wasm-backed entry points via wazero
//	├── errors/      Structured error types for debugging
//	└── cmd/devhost/ Simulated device over stdio, with a TUI console
//
// # Quick Start
//
// Serve calls over a transport:
//
//	srv := server.New(transport, server.Config{})
//	srv.Registry().Set("add", addEntry, false)
//
//	buf := make([]byte, 256)
//	for {
//	    n, err := transport.Read(buf)
//	    if err != nil {
//	        break
//	    }
//	    if _, err := srv.Write(buf[:n]); err != nil {
//	        log.Println(err)
//	    }
//	}
//
// The peer establishes a session with a start-session handshake, then
// sends call requests naming a registered function with tagged 64-bit
// argument words; the server replies with a one-byte status.
package microrpc
