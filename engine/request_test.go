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

import "testing"

func TestParseHeadSimpleGet(t *testing.T) {
	ft := newFakeTransport("GET /hello?a=1&b=two#frag HTTP/1.1\r\nHost: x\r\nHost: y\r\n\r\n")
	lr := newLineReader(ft, 0)

	req, remaining, chunked, err := parseHead(lr)
	if err != nil {
		t.Fatalf("parseHead failed: %v", err)
	}
	if chunked {
		t.Fatalf("expected non-chunked request")
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
	if req.Method != "GET" {
		t.Fatalf("method = %q", req.Method)
	}
	if req.Path != "/hello" {
		t.Fatalf("path = %q", req.Path)
	}
	if req.Fragment != "frag" {
		t.Fatalf("fragment = %q", req.Fragment)
	}
	if req.Query["a"] != "1" || req.Query["b"] != "two" {
		t.Fatalf("query = %#v", req.Query)
	}
	if got := req.Headers.Get("Host"); got != "x, y" {
		t.Fatalf("coalesced Host header = %q", got)
	}
	if req.Headers.Get("host") != req.Headers.Get("HOST") {
		t.Fatalf("header lookup must be case-insensitive")
	}
}

func TestParseHeadRejectsBadRequestLine(t *testing.T) {
	ft := newFakeTransport("GET /hello\r\n\r\n")
	lr := newLineReader(ft, 0)
	if _, _, _, err := parseHead(lr); err != ErrInvalidRequestLine {
		t.Fatalf("expected ErrInvalidRequestLine, got %v", err)
	}
}

func TestParseHeadRejectsUnsupportedVersion(t *testing.T) {
	ft := newFakeTransport("GET / HTTP/1.0\r\n\r\n")
	lr := newLineReader(ft, 0)
	if _, _, _, err := parseHead(lr); err != ErrUnsupportedHTTPVersion {
		t.Fatalf("expected ErrUnsupportedHTTPVersion, got %v", err)
	}
}

func TestParseHeadRejectsMalformedHeaderLine(t *testing.T) {
	ft := newFakeTransport("GET / HTTP/1.1\r\nNotAHeader\r\n\r\n")
	lr := newLineReader(ft, 0)
	if _, _, _, err := parseHead(lr); err != ErrInvalidRequestHeader {
		t.Fatalf("expected ErrInvalidRequestHeader, got %v", err)
	}
}

func TestParseHeadContentLength(t *testing.T) {
	ft := newFakeTransport("PUT /f HTTP/1.1\r\nContent-Length: 4\r\n\r\nabcd")
	lr := newLineReader(ft, 0)
	_, remaining, chunked, err := parseHead(lr)
	if err != nil {
		t.Fatalf("parseHead failed: %v", err)
	}
	if chunked {
		t.Fatalf("expected identity framing")
	}
	if remaining != 4 {
		t.Fatalf("remaining = %d", remaining)
	}
}

func TestParseHeadInvalidContentLength(t *testing.T) {
	ft := newFakeTransport("PUT /f HTTP/1.1\r\nContent-Length: notanumber\r\n\r\n")
	lr := newLineReader(ft, 0)
	if _, _, _, err := parseHead(lr); err != ErrInvalidContentLength {
		t.Fatalf("expected ErrInvalidContentLength, got %v", err)
	}
}

func TestParseHeadChunkedWinsOverContentLength(t *testing.T) {
	ft := newFakeTransport("POST /echo HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 999\r\n\r\n")
	lr := newLineReader(ft, 0)
	_, _, chunked, err := parseHead(lr)
	if err != nil {
		t.Fatalf("parseHead failed: %v", err)
	}
	if !chunked {
		t.Fatalf("expected chunked framing to win over Content-Length")
	}
}

func TestParseChunkHeader(t *testing.T) {
	ft := newFakeTransport("5\r\nhello\r\n0\r\n\r\n")
	lr := newLineReader(ft, 0)

	n, terminal, err := parseChunkHeader(lr)
	if err != nil {
		t.Fatalf("parseChunkHeader failed: %v", err)
	}
	if n != 5 || terminal {
		t.Fatalf("n=%d terminal=%v", n, terminal)
	}
}

func TestParseChunkHeaderMalformed(t *testing.T) {
	ft := newFakeTransport("zz\r\n")
	lr := newLineReader(ft, 0)
	if _, _, err := parseChunkHeader(lr); err != ErrInvalidChunkLength {
		t.Fatalf("expected ErrInvalidChunkLength, got %v", err)
	}
}

func TestExpectChunkDelimiterRejectsNonEmptyLine(t *testing.T) {
	ft := newFakeTransport("not-empty\r\n")
	lr := newLineReader(ft, 0)
	if err := expectChunkDelimiter(lr); err != ErrInvalidChunkDelimiter {
		t.Fatalf("expected ErrInvalidChunkDelimiter, got %v", err)
	}
}

func TestDecodePercentPlus(t *testing.T) {
	cases := map[string]string{
		"a+b":      "a b",
		"a%20b":    "a b",
		"100%25":   "100%",
		"trailing%": "trailing%",
	}
	for in, want := range cases {
		if got := decodePercentPlus(in); got != want {
			t.Errorf("decodePercentPlus(%q) = %q, want %q", in, got, want)
		}
	}
}
