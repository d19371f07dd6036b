// Package session implements the framing and session layers of the
// micro-rpc transport.
//
// The framing layer (Framer/Unframer) turns a continuous byte stream into
// delimited, checksum-validated packets using byte stuffing: 0xFF escapes,
// 0xFF 0xFD marks a packet start, and a CRC-16/CCITT-FALSE footer covers
// the unescaped length and payload. The session layer sits above it and
// adds a three-byte header {session_id, message_type} plus a restart-safe
// half-duplex handshake driven by single-use nonces.
//
// The package assumes the transport below it is reliable and delivers
// bytes strictly in order. It is designed for UART-like links and is not
// suitable for unordered or lossy datagram transports.
//
// Everything here is single-threaded by design: bytes are pushed in by an
// external driver, every call is synchronous, and no locks or goroutines
// are used on the data path.
package session
