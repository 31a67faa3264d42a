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

func TestLineReaderGetLine(t *testing.T) {
	ft := newFakeTransport("first\r\nsecond\r\n")
	lr := newLineReader(ft, 0)

	line, err := lr.getLine()
	if err != nil || line != "first" {
		t.Fatalf("line=%q err=%v", line, err)
	}
	line, err = lr.getLine()
	if err != nil || line != "second" {
		t.Fatalf("line=%q err=%v", line, err)
	}
}

func TestLineReaderResidueCarriesOverreadBytes(t *testing.T) {
	ft := newFakeTransport("first\r\nGET /next HTTP/1.1\r\n")
	lr := newLineReader(ft, 0)

	if _, err := lr.getLine(); err != nil {
		t.Fatalf("getLine failed: %v", err)
	}

	residue := lr.residue()
	if string(residue) != "GET /next HTTP/1.1\r\n" {
		t.Fatalf("residue = %q", residue)
	}
	if lr.buffered() != 0 {
		t.Fatalf("expected residue to drain the buffer")
	}
}

func TestLineReaderBoundEnforcement(t *testing.T) {
	ft := newFakeTransport("no-terminator-ever-appears-in-this-stream")
	lr := newLineReader(ft, 8)

	if _, err := lr.getLine(); err != ErrInvalidRequestHeader {
		t.Fatalf("expected a bound-exceeded error, got %v", err)
	}
}
