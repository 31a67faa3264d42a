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
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// State is a Transaction's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateHeadRead
	StateBodyStreaming
	StateResponseCommitted
	StateDraining
	StateTerminated
)

const drainBufSize = 64 * 1024

// Transaction orchestrates one request/response exchange on a Transport: the
// Request Parser, Body Reader, and Response Writer all operate through it.
// At most one Transaction is live per Transport; a new one may only start
// once the previous reaches StateTerminated.
type Transaction struct {
	transport Transport
	lr        *lineReader

	state State

	req              *Request
	parseErr         error
	parsed           bool
	requestRemaining int64
	chunksPending    bool
	requestTrailers  Header

	resp                 *Response
	committed            bool
	responseChunked      bool
	responseNoBody       bool
	headersFlushed       bool
	responseBytesWritten int64
}

// NewTransaction binds a fresh Transaction to an accepted Transport.
// maxHeadBytes bounds the Line Reader buffer; zero selects DefaultMaxHeadBytes.
func NewTransaction(t Transport, maxHeadBytes int) *Transaction {
	return &Transaction{
		transport: t,
		lr:        newLineReader(t, maxHeadBytes),
		resp:      newResponse(),
	}
}

// ensureParsed runs the Request Parser on first use, transitioning
// New -> HeadRead, or New -> Terminated on a parse error.
func (tx *Transaction) ensureParsed() error {
	if tx.parsed {
		return tx.parseErr
	}
	tx.parsed = true

	req, remaining, chunked, err := parseHead(tx.lr)
	if err != nil {
		tx.parseErr = err
		tx.state = StateTerminated
		return err
	}
	tx.req = req
	tx.chunksPending = chunked

	if chunked {
		length, terminal, err := parseChunkHeader(tx.lr)
		if err != nil {
			tx.parseErr = err
			tx.state = StateTerminated
			return err
		}
		if terminal {
			tx.chunksPending = false
			trailers, err := parseTrailers(tx.lr)
			if err != nil {
				tx.parseErr = err
				tx.state = StateTerminated
				return err
			}
			tx.requestTrailers = trailers
		} else {
			tx.requestRemaining = length
		}
	} else {
		tx.requestRemaining = remaining
	}

	tx.state = StateHeadRead
	return nil
}

// Request accessors, valid once the head has parsed.

func (tx *Transaction) RequestMethod() string           { return tx.req.Method }
func (tx *Transaction) RequestVersion() string           { return tx.req.Version }
func (tx *Transaction) RequestPath() string              { return tx.req.Path }
func (tx *Transaction) RequestFragment() string          { return tx.req.Fragment }
func (tx *Transaction) RequestQuery() map[string]string  { return tx.req.Query }
func (tx *Transaction) RequestHeaders() Header           { return tx.req.Headers }
func (tx *Transaction) RequestResource() string          { return tx.req.Resource }
func (tx *Transaction) RequestTrailers() Header          { return tx.requestTrailers }
func (tx *Transaction) RequestHeader(name, def string) string {
	return tx.req.Header(name, def)
}

// State reports the Transaction's current lifecycle state.
func (tx *Transaction) State() State { return tx.state }

// ResponseStatus returns the status code set so far (0 if unset).
func (tx *Transaction) ResponseStatus() int { return tx.resp.Status }

// SetResponseStatus sets the status code, effective only before the first
// body write or finalize commits framing.
func (tx *Transaction) SetResponseStatus(status int) { tx.resp.Status = status }

// ResponseHeaders returns the mutable response header map.
func (tx *Transaction) ResponseHeaders() Header { return tx.resp.Headers }

// ResponseTrailers returns the mutable response trailer map, emitted only
// when the response is sent chunked.
func (tx *Transaction) ResponseTrailers() Header { return tx.resp.Trailers }

// ResponseBytesWritten returns the count of application payload bytes
// written so far.
func (tx *Transaction) ResponseBytesWritten() int64 { return tx.responseBytesWritten }

// Read implements the Body Reader. The first call on a fresh Transaction
// runs the Request Parser. It returns io.EOF once the body is exhausted.
func (tx *Transaction) Read(buf []byte) (int, error) {
	if err := tx.ensureParsed(); err != nil {
		return 0, err
	}
	if tx.state == StateHeadRead {
		tx.state = StateBodyStreaming
	}
	return tx.readBody(buf)
}

// readBody is the Body Reader core, reusable by drain without touching the
// Transaction's externally observable state.
func (tx *Transaction) readBody(buf []byte) (int, error) {
	for {
		if tx.requestRemaining > 0 {
			max := int64(len(buf))
			if max > tx.requestRemaining {
				max = tx.requestRemaining
			}
			n := tx.lr.readBuffered(buf[:max])
			if int64(n) < max {
				m, err := tx.transport.ReadSome(buf[n:max])
				n += m
				if n == 0 && err != nil {
					return 0, err
				}
			}
			tx.requestRemaining -= int64(n)
			return n, nil
		}

		if tx.chunksPending {
			if err := expectChunkDelimiter(tx.lr); err != nil {
				return 0, err
			}
			length, terminal, err := parseChunkHeader(tx.lr)
			if err != nil {
				return 0, err
			}
			if terminal {
				tx.chunksPending = false
				trailers, err := parseTrailers(tx.lr)
				if err != nil {
					return 0, err
				}
				tx.requestTrailers = trailers
				return 0, io.EOF
			}
			tx.requestRemaining = length
			continue
		}

		if len(buf) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
}

// SendProvisional emits a bare 1xx status line without committing response
// framing; the real response may still be sent afterward via Write/Finish.
func (tx *Transaction) SendProvisional(status int) error {
	line := fmt.Sprintf("HTTP/1.1 %d %s\r\n\r\n", status, reasonPhrase(status))
	return tx.transport.Serialize(func() error {
		_, err := tx.transport.WriteSome([]byte(line))
		return err
	})
}

// commitFraming runs the framing decision exactly once, on first write or on
// finalize, whichever happens first.
func (tx *Transaction) commitFraming() {
	if tx.committed {
		return
	}
	tx.committed = true

	if !tx.resp.Headers.Has("Date") {
		tx.resp.Headers.Set("Date", time.Now().UTC().Format(http1DateFormat))
	}

	if noBodyStatus(tx.resp.Status) || tx.req != nil && tx.req.Method == "HEAD" {
		tx.responseNoBody = true
		tx.responseChunked = false
	} else {
		te := tx.resp.Headers.Get("Transfer-Encoding")
		switch {
		case te != "" && !strings.EqualFold(te, "identity"):
			tx.responseChunked = true
			tx.resp.Headers.Del("Content-Length")
		case !tx.resp.Headers.Has("Content-Length"):
			tx.responseChunked = true
			tx.resp.Headers.Set("Transfer-Encoding", "chunked")
		default:
			tx.responseChunked = false
		}
	}

	if !tx.responseChunked && !tx.resp.Headers.Has("Content-Length") {
		tx.resp.Headers.Set("Content-Length", "0")
	}
}

const http1DateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// headerBlock renders the status line and header block, used for the first
// write's framing prefix.
func (tx *Transaction) headerBlock() []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(tx.resp.Status))
	b.WriteByte(' ')
	b.WriteString(reasonPhrase(tx.resp.Status))
	b.WriteString("\r\n")
	for name, value := range tx.resp.Headers {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// Write implements the Response Writer's application-facing write. The
// first call commits framing and emits the status line and headers.
func (tx *Transaction) Write(p []byte) (int, error) {
	if tx.state == StateHeadRead || tx.state == StateBodyStreaming {
		tx.state = StateResponseCommitted
	}

	var frame bytes.Buffer
	if !tx.headersFlushed {
		tx.commitFraming()
		frame.Write(tx.headerBlock())
		tx.headersFlushed = true
	}

	if tx.responseNoBody {
		tx.responseBytesWritten += int64(len(p))
		if frame.Len() > 0 {
			if err := tx.flush(frame.Bytes()); err != nil {
				return 0, err
			}
		}
		return len(p), nil
	}

	if tx.responseChunked {
		if len(p) > 0 {
			frame.WriteString(strconv.FormatInt(int64(len(p)), 16))
			frame.WriteString("\r\n")
			frame.Write(p)
			frame.WriteString("\r\n")
		}
	} else {
		frame.Write(p)
	}

	tx.responseBytesWritten += int64(len(p))
	if frame.Len() == 0 {
		return len(p), nil
	}
	if err := tx.flush(frame.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (tx *Transaction) flush(b []byte) error {
	return tx.transport.Serialize(func() error {
		_, err := tx.transport.WriteSome(b)
		return err
	})
}

// drain consumes any unread request body in bounded chunks, so the next
// request on the same connection is not mis-framed.
func (tx *Transaction) drain() error {
	if err := tx.ensureParsed(); err != nil {
		return err
	}
	buf := make([]byte, drainBufSize)
	for tx.requestRemaining > 0 || tx.chunksPending {
		_, err := tx.readBody(buf)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

// Finish drains the request body, returns any overread bytes to the
// Transport's putback buffer, and emits terminal response framing. It must
// be called exactly once per Transaction.
func (tx *Transaction) Finish() error {
	if tx.state == StateTerminated {
		return nil
	}
	tx.state = StateDraining

	if err := tx.drain(); err != nil {
		tx.state = StateTerminated
		return err
	}

	if residue := tx.lr.residue(); residue != nil {
		tx.transport.PutBack(residue)
	}

	var frame bytes.Buffer
	if !tx.headersFlushed {
		tx.commitFraming()
		frame.Write(tx.headerBlock())
		tx.headersFlushed = true
	}

	if !tx.responseNoBody {
		if tx.responseChunked {
			frame.WriteString("0\r\n")
			for name, value := range tx.resp.Trailers {
				frame.WriteString(name)
				frame.WriteString(": ")
				frame.WriteString(value)
				frame.WriteString("\r\n")
			}
			frame.WriteString("\r\n")
		}
	}

	tx.state = StateTerminated
	if frame.Len() == 0 {
		return nil
	}
	return tx.flush(frame.Bytes())
}

// KeepAlive reports whether the connection may be reused for a successor
// Transaction, per the Connection Loop's keep-alive rule.
func (tx *Transaction) KeepAlive() bool {
	if tx.resp.Status == 101 {
		return false
	}
	if tx.req != nil && strings.EqualFold(tx.req.Headers.Get("Connection"), "close") {
		return false
	}
	if strings.EqualFold(tx.resp.Headers.Get("Connection"), "close") {
		return false
	}
	return true
}
