// Copyright 2018 Comcast Cable Communications Management, LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the structured logging facade used throughout the
// client. It wraps zerolog with an ECS-shaped encoder so the call sites
// sprinkled across core/conn, core/transport and core/threads (Debugf,
// Infof, Warnf, Errorf) stay as plain, low-ceremony calls.
package log

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.elastic.co/ecszerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu       sync.Mutex
	logger   = ecszerolog.New(os.Stderr).With().Timestamp().Logger()
	levelVal int32 = int32(zerolog.InfoLevel)
)

// UseRotatingFile switches the log sink to a size/age-rotated file,
// intended for long-running connection processes that would otherwise
// grow an unbounded stderr stream.
func UseRotatingFile(path string) {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	SetOutput(w)
}

// SetOutput replaces the underlying writer. Exposed mainly for tests that
// want to capture log output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = ecszerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum level that will be emitted.
func SetLevel(l zerolog.Level) {
	atomic.StoreInt32(&levelVal, int32(l))
}

func current() *zerolog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	lvl := l.Level(zerolog.Level(atomic.LoadInt32(&levelVal)))
	return &lvl
}

func Debugf(format string, args ...interface{}) {
	current().Debug().Msgf(format, args...)
}

// TraceCommand emits a debug-level line naming a command's wire type
// and commandId. prefix identifies the call site (e.g. "send", "recv",
// "replay").
func TraceCommand(prefix string, kind string, commandID uint32) {
	current().Debug().Str("kind", kind).Uint32("commandId", commandID).Msg(prefix)
}

func Infof(format string, args ...interface{}) {
	current().Info().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	current().Warn().Msgf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	current().Error().Msgf(format, args...)
}
