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

package metric

import (
	"io"
	"net"
	"testing"

	"github.com/caiflower/chunky/engine"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorDispatchRecordsMetrics(t *testing.T) {
	client, serverConn := net.Pipe()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		_, _ = client.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))
		_, _ = io.ReadAll(client)
	}()

	transport := engine.NewTCPTransport(serverConn)
	tx := engine.NewTransaction(transport, 0)
	if _, err := tx.Read(nil); err != nil && err != io.EOF {
		t.Fatalf("forcing parse failed: %v", err)
	}

	d := engine.NewDispatcher()
	d.Handle("/hello", func(tx *engine.Transaction) {
		tx.SetResponseStatus(200)
		_, _ = tx.Write([]byte("hi"))
		_ = tx.Finish()
	})

	c := NewCollector(d)
	c.Dispatch(tx)
	_ = serverConn.Close()
	<-clientDone

	if got := testutil.ToFloat64(c.requestTotal.WithLabelValues("GET", "/hello", "200")); got != 1 {
		t.Fatalf("request counter = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.costHistogram); n != 1 {
		t.Fatalf("histogram samples = %d, want 1", n)
	}

	c.RecordParseFailure("-")
	if got := testutil.ToFloat64(c.requestTotal.WithLabelValues("-", "-", "-")); got != 1 {
		t.Fatalf("parse-failure counter = %v, want 1", got)
	}
}
