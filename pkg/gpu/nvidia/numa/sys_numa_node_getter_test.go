// Copyright 2020 Google Inc. All Rights Reserved.
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

package numa

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func Test_WhenFileIsGood_ReturnsContentsCorrectly(t *testing.T) {
	testSysNumaNodeGetter(t, "1\n", 1, false)
}

func Test_WhenNodeIsUnknown_ReturnsMinusOne(t *testing.T) {
	testSysNumaNodeGetter(t, "-1\n", -1, false)
}

func Test_WhenFileIsMissing_ReturnsError(t *testing.T) {
	testSysNumaNodeGetter(t, "", -1, true)
}

func Test_WhenFileIsCorrupt_ReturnsError(t *testing.T) {
	testSysNumaNodeGetter(t, "nonsense", -1, true)
}

func Test_BusIDIsLowerCased(t *testing.T) {
	as := assert.New(t)

	sut := NewSysNumaNodeGetter(fstest.MapFS{
		"bus/pci/devices/0000:af:00.0/numa_node": &fstest.MapFile{Data: []byte("3\n")},
	})

	numaNode, err := sut.Get("0000:AF:00.0")

	as.Equal(3, numaNode)
	as.Nil(err)
}

func testSysNumaNodeGetter(t *testing.T, numaNodeFileContents string, expectedResult int, expectError bool) {
	as := assert.New(t)

	files := fstest.MapFS{}
	if numaNodeFileContents != "" {
		files["bus/pci/devices/0000:00:09.0/numa_node"] = &fstest.MapFile{Data: []byte(numaNodeFileContents)}
	}

	sut := NewSysNumaNodeGetter(files)

	numaNode, err := sut.Get("0000:00:09.0")

	as.Equal(expectedResult, numaNode)
	if expectError {
		as.NotNil(err)
	} else {
		as.Nil(err)
	}
}
