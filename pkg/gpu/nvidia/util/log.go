// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"bytes"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// TimestampFormatter renders entries as "[YYYY-MM-DD HH:MM:SS] message".
// Fields are not printed.
type TimestampFormatter struct {
	// Now overrides the entry time when set.
	Now func() time.Time
}

func (f *TimestampFormatter) Format(entry *log.Entry) ([]byte, error) {
	ts := entry.Time
	if f.Now != nil {
		ts = f.Now()
	}
	var b bytes.Buffer
	b.WriteByte('[')
	b.WriteString(ts.Format(timestampFormat))
	b.WriteString("] ")
	b.WriteString(entry.Message)
	if n := b.Len(); n == 0 || b.Bytes()[n-1] != '\n' {
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// NewLogger returns a logger writing timestamped lines to out. A nil now
// uses the wall clock.
func NewLogger(out io.Writer, now func() time.Time) *log.Logger {
	logger := log.New()
	logger.SetOutput(out)
	logger.SetFormatter(&TimestampFormatter{Now: now})
	return logger
}
