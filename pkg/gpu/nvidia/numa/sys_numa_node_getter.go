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

package numa

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

func NewSysNumaNodeGetter(sysfs fs.FS) NumaNodeGetter {
	return &sysNumaNodeGetter{sysfs: sysfs}
}

// Gets NUMA node by looking under /sys
type sysNumaNodeGetter struct {
	sysfs fs.FS // rooted at /sys in production, but allow mocking for tests
}

func (s *sysNumaNodeGetter) Get(busID string) (int, error) {
	filename := fmt.Sprintf("bus/pci/devices/%s/numa_node", strings.ToLower(busID))
	numaStr, err := fs.ReadFile(s.sysfs, filename)
	if err != nil {
		return -1, fmt.Errorf("failed to read file %s: %v", filename, err)
	}

	numa, err := strconv.ParseInt(strings.TrimSpace(string(numaStr)), 10, 16)
	if err != nil {
		return -1, fmt.Errorf("failed to parse %q read from file %s: %v", numaStr, filename, err)
	}
	if numa < 0 {
		numa = -1
	}

	glog.V(2).Infof("Mapped PCI bus id %s to NUMA node %d", busID, numa)

	return int(numa), nil
}
