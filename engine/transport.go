/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

import (
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/caiflower/chunky/pkg/syncx"
)

// Transport abstracts a full-duplex byte stream: plain TCP or TLS-wrapped
// TCP. Reads are satisfied from the putback buffer before the wire. Serialize
// orders framing and payload writes that would otherwise interleave if two
// goroutines touched the same connection at once.
type Transport interface {
	ReadSome(buf []byte) (int, error)
	WriteSome(buf []byte) (int, error)
	PutBack(b []byte)
	Peek(n int) ([]byte, error)
	Serialize(fn func() error) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

type streamTransport struct {
	conn    net.Conn
	putback []byte
	token   syncLocker
	isTLS   bool
}

// syncLocker avoids importing "sync" just for the interface name; satisfied
// by pkg/syncx's spinlock.
type syncLocker interface {
	Lock()
	Unlock()
}

// NewTCPTransport wraps a plain net.Conn (typically from net.Listener.Accept).
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{conn: conn, token: syncx.NewSpinLock()}
}

// NewTLSTransport performs the TLS handshake before returning, so the
// handshake always completes before the Transport's first exposed read or
// write, matching the plain-TCP Transport's ready-to-use contract.
func NewTLSTransport(conn *tls.Conn) (Transport, error) {
	if err := conn.Handshake(); err != nil {
		return nil, err
	}
	return &streamTransport{conn: conn, token: syncx.NewSpinLock(), isTLS: true}, nil
}

func (t *streamTransport) ReadSome(buf []byte) (int, error) {
	if len(t.putback) > 0 {
		n := copy(buf, t.putback)
		t.putback = t.putback[n:]
		return n, nil
	}

	n, err := t.conn.Read(buf)
	if err != nil {
		return n, t.mapReadErr(err)
	}
	return n, nil
}

// mapReadErr maps a TLS short-read to io.EOF, as the plain-TCP transport
// reports a closed connection.
func (t *streamTransport) mapReadErr(err error) error {
	if t.isTLS && err != io.EOF {
		if _, ok := err.(*net.OpError); !ok {
			return io.EOF
		}
	}
	return err
}

func (t *streamTransport) WriteSome(buf []byte) (int, error) {
	return t.conn.Write(buf)
}

// PutBack prepends bytes to the putback buffer; subsequent reads see them
// before anything still on the wire.
func (t *streamTransport) PutBack(b []byte) {
	if len(b) == 0 {
		return
	}
	combined := make([]byte, 0, len(b)+len(t.putback))
	combined = append(combined, b...)
	combined = append(combined, t.putback...)
	t.putback = combined
}

// Peek reads up to n bytes and immediately puts them back, so it behaves as
// a non-consuming lookahead built on the same putback mechanism used for
// pipelined request residue.
func (t *streamTransport) Peek(n int) ([]byte, error) {
	buf := make([]byte, n)
	nRead, err := t.ReadSome(buf)
	if nRead > 0 {
		t.PutBack(buf[:nRead])
	}
	if err != nil {
		return nil, err
	}
	return buf[:nRead], nil
}

// Serialize runs fn under the transport's per-stream serialization token, so
// framing prefix, payload, and framing suffix of one write are never
// interleaved with another writer's bytes on this connection.
func (t *streamTransport) Serialize(fn func() error) error {
	t.token.Lock()
	defer t.token.Unlock()
	return fn()
}

func (t *streamTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *streamTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

func (t *streamTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Close shuts a plain TCP connection down in both directions before closing
// the descriptor, mirroring the paired teardown a TCP stream performs on
// destruction. Any other connection, including a TLS one, is closed directly.
func (t *streamTransport) Close() error {
	if tcp, ok := t.conn.(*net.TCPConn); ok {
		_ = tcp.CloseRead()
		_ = tcp.CloseWrite()
	}
	return t.conn.Close()
}
