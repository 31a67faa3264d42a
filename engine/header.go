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

import "net/textproto"

// Header is a case-insensitive name-to-value map. Multiple values for the
// same name on input are coalesced by concatenation with ", " in arrival
// order. Insertion order is not observable.
type Header map[string]string

// Get returns the value for name, canonicalized case-insensitively. The
// zero value is returned if absent.
func (h Header) Get(name string) string {
	return h[textproto.CanonicalMIMEHeaderKey(name)]
}

// GetOr returns Get(name), or def if the header is absent.
func (h Header) GetOr(name, def string) string {
	if v, ok := h[textproto.CanonicalMIMEHeaderKey(name)]; ok {
		return v
	}
	return def
}

// Set overwrites any existing value for name.
func (h Header) Set(name, value string) {
	h[textproto.CanonicalMIMEHeaderKey(name)] = value
}

// Add coalesces value onto any existing value for name by ", ".
func (h Header) Add(name, value string) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	if existing, ok := h[key]; ok {
		h[key] = existing + ", " + value
	} else {
		h[key] = value
	}
}

// Del removes name.
func (h Header) Del(name string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(name))
}

// Has reports whether name is present, regardless of case.
func (h Header) Has(name string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}
