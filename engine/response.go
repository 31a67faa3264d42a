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

// Response is the mutable response descriptor. The handler may set Status
// and mutate Headers/Trailers freely until the first body byte is written,
// at which point framing is committed and headers are frozen.
type Response struct {
	Status   int
	Headers  Header
	Trailers Header
}

func newResponse() *Response {
	return &Response{Headers: make(Header), Trailers: make(Header)}
}
