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

package server

import (
	"crypto/tls"
	"reflect"
	"strconv"
	"time"

	"github.com/caiflower/chunky/engine"
	"github.com/caiflower/chunky/pkg/tools"
)

// Options is the server's YAML-loadable configuration surface, defaulted
// via struct tags the same way every server in this codebase is configured.
// Durations are stored as whole seconds because the struct-tag defaulter
// parses an int tag with strconv.Atoi, so a time.Duration field would take a
// raw nanosecond count; bools are stored as "True"/"False" strings because
// the defaulter does not handle bool.
type Options struct {
	Name               string      `yaml:"name" default:"chunky"`
	Addr               string      `yaml:"addr" default:"0.0.0.0:8080"`
	MaxHeadBytes       int         `yaml:"maxHeadBytes" default:"10485760"`
	ReadTimeoutSec     int         `yaml:"readTimeout" default:"30"`
	WriteTimeoutSec    int         `yaml:"writeTimeout" default:"30"`
	IdleTimeoutSec     int         `yaml:"idleTimeout" default:"60"`
	ShutdownTimeoutSec int         `yaml:"shutdownTimeout" default:"5"`
	EnableMetrics      string      `yaml:"enableMetrics" default:"True"`
	TLSConfig          *tls.Config `yaml:"-"`
}

// LoadOptions applies struct-tag defaults to a zero-valued or
// partially-populated Options, the same DoTagFunc/SetDefaultValueIfNil
// pattern every other server config in this codebase goes through.
func LoadOptions(opts *Options) *Options {
	tools.DoTagFunc(opts, []func(reflect.StructField, reflect.Value){tools.SetDefaultValueIfNil})
	return opts
}

// LoadOptionsFromYAML reads opts from a YAML file and fills in any
// field left at its zero value via struct-tag defaults.
func LoadOptionsFromYAML(filename string) (*Options, error) {
	opts := &Options{}
	if err := tools.LoadConfig(filename, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) maxHeadBytes() int {
	if o.MaxHeadBytes <= 0 {
		return engine.DefaultMaxHeadBytes
	}
	return o.MaxHeadBytes
}

func (o *Options) readTimeout() time.Duration  { return time.Duration(o.ReadTimeoutSec) * time.Second }
func (o *Options) writeTimeout() time.Duration { return time.Duration(o.WriteTimeoutSec) * time.Second }
func (o *Options) idleTimeout() time.Duration  { return time.Duration(o.IdleTimeoutSec) * time.Second }
func (o *Options) shutdownTimeout() time.Duration {
	return time.Duration(o.ShutdownTimeoutSec) * time.Second
}

func (o *Options) enableMetrics() bool {
	v, _ := strconv.ParseBool(o.EnableMetrics)
	return v
}
