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

// Handler processes one Transaction. It takes ownership of the Transaction
// for the duration of the response and must eventually call Finish.
type Handler func(tx *Transaction)

// Dispatcher holds an exact-match path-to-handler table plus a default
// handler, called once per Transaction after the request head is parsed.
type Dispatcher struct {
	routes map[string]Handler
	def    Handler
}

// NewDispatcher builds a Dispatcher whose default handler emits 404 Not
// Found with a small HTML body.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		routes: make(map[string]Handler),
		def:    notFoundHandler,
	}
}

// Handle registers h for exact-match requests against path.
func (d *Dispatcher) Handle(path string, h Handler) {
	d.routes[path] = h
}

// SetDefault overrides the handler invoked when no route matches.
func (d *Dispatcher) SetDefault(h Handler) {
	if h != nil {
		d.def = h
	}
}

// Dispatch looks up tx's request path and invokes the matching handler, or
// the default handler on a miss.
func (d *Dispatcher) Dispatch(tx *Transaction) {
	if h, ok := d.routes[tx.RequestPath()]; ok {
		h(tx)
		return
	}
	d.def(tx)
}

func notFoundHandler(tx *Transaction) {
	body := []byte("<html><body><h1>404 Not Found</h1></body></html>")
	tx.SetResponseStatus(404)
	tx.ResponseHeaders().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = tx.Write(body)
	_ = tx.Finish()
}
