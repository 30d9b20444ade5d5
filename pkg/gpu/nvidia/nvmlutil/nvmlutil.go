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

package nvmlutil

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type NvmlOperations interface {
	DeviceCount() (int, nvml.Return)
	DeviceHandleByIndex(int) (nvml.Device, nvml.Return)
	PciInfo(d nvml.Device) (nvml.PciInfo, nvml.Return)
	UUID(d nvml.Device) (string, nvml.Return)
}

// Declare an interface variable for NVML operations.
// This allows the interface to be overriden with mock
// implementations in the tests.
var NvmlDeviceInfo NvmlOperations

// DeviceInfo is a struct that implements the NvmlOperations interface.
type DeviceInfo struct{}

func (gpuDeviceInfo *DeviceInfo) DeviceCount() (int, nvml.Return) {
	return nvml.DeviceGetCount()
}

func (gpuDeviceInfo *DeviceInfo) DeviceHandleByIndex(i int) (nvml.Device, nvml.Return) {
	return nvml.DeviceGetHandleByIndex(i)
}

func (gpuDeviceInfo *DeviceInfo) PciInfo(d nvml.Device) (nvml.PciInfo, nvml.Return) {
	return d.GetPciInfo()
}

func (gpuDeviceInfo *DeviceInfo) UUID(d nvml.Device) (string, nvml.Return) {
	return d.GetUUID()
}

// Operations returns the NVML operations in use, defaulting to the real library.
func Operations() NvmlOperations {
	if NvmlDeviceInfo == nil {
		NvmlDeviceInfo = &DeviceInfo{}
	}
	return NvmlDeviceInfo
}

var returnNames = map[nvml.Return]string{
	nvml.ERROR_UNINITIALIZED:     "NVML was not initialized",
	nvml.ERROR_INVALID_ARGUMENT:  "invalid argument",
	nvml.ERROR_NOT_SUPPORTED:     "not supported",
	nvml.ERROR_NO_PERMISSION:     "insufficient permissions",
	nvml.ERROR_NOT_FOUND:         "not found",
	nvml.ERROR_DRIVER_NOT_LOADED: "driver not loaded",
	nvml.ERROR_LIBRARY_NOT_FOUND: "NVML shared library not found",
	nvml.ERROR_GPU_IS_LOST:       "GPU is lost",
	nvml.ERROR_UNKNOWN:           "unknown error",
}

// ErrorString describes an NVML return code without calling into the
// library, which may not be loaded.
func ErrorString(ret nvml.Return) string {
	if name, ok := returnNames[ret]; ok {
		return name
	}
	return fmt.Sprintf("NVML return code %d", int32(ret))
}

// PciBusID returns the PCI bus id of a device in the form used under
// /sys/bus/pci/devices, e.g. 0000:3b:00.0.
func PciBusID(d nvml.Device) (string, error) {
	pciInfo, ret := Operations().PciInfo(d)
	if ret != nvml.SUCCESS {
		return "", fmt.Errorf("error getting PCI Bus Info of device: %v", ErrorString(ret))
	}
	return NormalizeBusID(busIDString(pciInfo.BusId))
}

func busIDString(raw [32]int8) string {
	var bytesT []byte
	for _, b := range raw {
		if byte(b) == '\x00' {
			break
		}
		bytesT = append(bytesT, byte(b))
	}
	return string(bytesT)
}

// NormalizeBusID converts an NVML bus id (8 digit domain, upper case) to the
// sysfs form (4 digit domain, lower case).
func NormalizeBusID(busID string) (string, error) {
	busID = strings.ToLower(strings.TrimSpace(busID))
	domain, rest, found := strings.Cut(busID, ":")
	if !found || rest == "" {
		return "", fmt.Errorf("malformed PCI bus id %q", busID)
	}
	// Discard leading zeros.
	if len(domain) > 4 {
		if strings.Trim(domain[:len(domain)-4], "0") != "" {
			return "", fmt.Errorf("PCI domain out of range in bus id %q", busID)
		}
		domain = domain[len(domain)-4:]
	}
	if len(domain) < 4 {
		domain = strings.Repeat("0", 4-len(domain)) + domain
	}
	return domain + ":" + rest, nil
}
