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
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/golang/glog"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/nvmlutil"
)

// NewNvmlPciDetailsGetter returns a PciDetailsGetter that uses Nvidia's NVML
// library to map device index to PCI bus id. NVML must already be initialized.
func NewNvmlPciDetailsGetter() (PciDetailsGetter, error) {
	ops := nvmlutil.Operations()

	numDevices, ret := ops.DeviceCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device count: %v", nvmlutil.ErrorString(ret))
	}
	glog.V(2).Infof("Found %d GPUs", numDevices)

	devices := make([]nvmlDevice, 0, numDevices)
	for deviceIndex := 0; deviceIndex < numDevices; deviceIndex++ {
		device, ret := ops.DeviceHandleByIndex(deviceIndex)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to read device with index %d: %v", deviceIndex, nvmlutil.ErrorString(ret))
		}
		busID, err := nvmlutil.PciBusID(device)
		if err != nil {
			return nil, fmt.Errorf("failed to read PCI bus id of device %d: %v", deviceIndex, err)
		}
		uuid, ret := ops.UUID(device)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to read UUID of device %d: %v", deviceIndex, nvmlutil.ErrorString(ret))
		}
		glog.V(2).Infof("Mapped GPU %d (%s) to PCI bus id %s", deviceIndex, uuid, busID)
		devices = append(devices, nvmlDevice{busID: busID, uuid: uuid})
	}
	return &nvmlPciDetailsGetter{devices: devices}, nil
}

type nvmlDevice struct {
	busID string
	uuid  string
}

type nvmlPciDetailsGetter struct {
	devices []nvmlDevice
}

func (dg *nvmlPciDetailsGetter) GetPciBusID(ordinal int) (string, error) {
	if ordinal < 0 || ordinal >= len(dg.devices) {
		return "", fmt.Errorf("%w: index %d, NVML reports %d GPUs", ErrNoSuchDevice, ordinal, len(dg.devices))
	}
	return dg.devices[ordinal].busID, nil
}

func (dg *nvmlPciDetailsGetter) IndexForUUID(prefix string) (int, error) {
	match := -1
	for i, d := range dg.devices {
		if !strings.HasPrefix(d.uuid, prefix) {
			continue
		}
		if match >= 0 {
			return -1, fmt.Errorf("UUID prefix %q is ambiguous", prefix)
		}
		match = i
	}
	if match < 0 {
		return -1, fmt.Errorf("%w: no GPU with UUID prefix %q", ErrNoSuchDevice, prefix)
	}
	return match, nil
}
