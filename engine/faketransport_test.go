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
	"bytes"
	"io"
	"net"
	"time"
)

// fakeTransport is an in-memory Transport standing in for a TCP socket
// across a connection's lifetime, so Transaction and Connection Loop
// behavior can be exercised without a real listener.
type fakeTransport struct {
	in      *bytes.Buffer
	out     bytes.Buffer
	putback []byte
	closed  bool
}

func newFakeTransport(input string) *fakeTransport {
	return &fakeTransport{in: bytes.NewBufferString(input)}
}

func (f *fakeTransport) ReadSome(buf []byte) (int, error) {
	if len(f.putback) > 0 {
		n := copy(buf, f.putback)
		f.putback = f.putback[n:]
		return n, nil
	}
	if f.in.Len() == 0 {
		return 0, io.EOF
	}
	return f.in.Read(buf)
}

func (f *fakeTransport) WriteSome(buf []byte) (int, error) {
	return f.out.Write(buf)
}

func (f *fakeTransport) PutBack(b []byte) {
	if len(b) == 0 {
		return
	}
	combined := make([]byte, 0, len(b)+len(f.putback))
	combined = append(combined, b...)
	combined = append(combined, f.putback...)
	f.putback = combined
}

func (f *fakeTransport) Peek(n int) ([]byte, error) {
	buf := make([]byte, n)
	nRead, err := f.ReadSome(buf)
	if nRead > 0 {
		f.PutBack(buf[:nRead])
	}
	if err != nil {
		return nil, err
	}
	return buf[:nRead], nil
}

func (f *fakeTransport) Serialize(fn func() error) error { return fn() }
func (f *fakeTransport) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeTransport) RemoteAddr() net.Addr              { return nil }
func (f *fakeTransport) Close() error                      { f.closed = true; return nil }
