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

package pci

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

const (
	// DevicesDir is the PCI device directory relative to the sysfs root.
	DevicesDir = "bus/pci/devices"

	nvidiaVendorID = 0x10de
	// Display controller base class; covers VGA (0x0300) and 3D (0x0302) GPUs.
	displayClass = 0x03
)

// NewSysPciDetailsGetter returns a PciDetailsGetter that enumerates NVIDIA
// display controllers under sysfs. Ordinals follow PCI bus order, which is
// what CUDA reports with CUDA_DEVICE_ORDER=PCI_BUS_ID.
func NewSysPciDetailsGetter(sysfs fs.FS) (PciDetailsGetter, error) {
	entries, err := fs.ReadDir(sysfs, DevicesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list PCI devices: %v", err)
	}

	var busIDs []string
	for _, e := range entries {
		busID := e.Name()
		vendor, err := readHex(sysfs, path.Join(DevicesDir, busID, "vendor"))
		if err != nil {
			glog.V(4).Infof("Skipping PCI device %s: %v", busID, err)
			continue
		}
		if vendor != nvidiaVendorID {
			continue
		}
		class, err := readHex(sysfs, path.Join(DevicesDir, busID, "class"))
		if err != nil {
			glog.V(4).Infof("Skipping PCI device %s: %v", busID, err)
			continue
		}
		if class>>16 != displayClass {
			continue
		}
		glog.V(2).Infof("Found Nvidia GPU at PCI bus id %s", busID)
		busIDs = append(busIDs, strings.ToLower(busID))
	}
	sort.Strings(busIDs)
	return &sysPciDetailsGetter{busIDs: busIDs}, nil
}

type sysPciDetailsGetter struct {
	busIDs []string
}

func (s *sysPciDetailsGetter) GetPciBusID(ordinal int) (string, error) {
	if ordinal < 0 || ordinal >= len(s.busIDs) {
		return "", fmt.Errorf("%w: index %d, found %d GPUs under sysfs", ErrNoSuchDevice, ordinal, len(s.busIDs))
	}
	return s.busIDs[ordinal], nil
}

func readHex(sysfs fs.FS, name string) (uint64, error) {
	b, err := fs.ReadFile(sysfs, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 0, 32)
}
