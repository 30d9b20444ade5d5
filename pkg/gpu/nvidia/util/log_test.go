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
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger_FixedClock(t *testing.T) {
	var out bytes.Buffer
	now := func() time.Time { return time.Date(2024, 3, 9, 7, 5, 1, 0, time.Local) }
	logger := NewLogger(&out, now)

	logger.Errorf("Unable to find CPU/core nearest GPU device %d!", 3)
	logger.Warn("already terminated\n")

	assert.Equal(t,
		"[2024-03-09 07:05:01] Unable to find CPU/core nearest GPU device 3!\n"+
			"[2024-03-09 07:05:01] already terminated\n",
		out.String())
}

func TestNewLogger_WallClock(t *testing.T) {
	var out bytes.Buffer
	logger := NewLogger(&out, nil)

	logger.Info("hello")

	assert.Regexp(t, regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] hello\n$`), out.String())
}
