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

// This file mocks NVML library methods for unit tests.

package nvmlutil

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// MockDevice describes one GPU as NVML would report it.
type MockDevice struct {
	BusID string
	UUID  string
}

// MockDeviceInfo serves Devices in index order. Handles are not inspectable,
// so the last index handed out is remembered and used by the per-device calls.
type MockDeviceInfo struct {
	CurrentDevice int
	Devices       []MockDevice
	// CountError, when set, is returned by DeviceCount.
	CountError nvml.Return
}

func (gpuDeviceInfo *MockDeviceInfo) DeviceCount() (int, nvml.Return) {
	if gpuDeviceInfo.CountError != nvml.SUCCESS {
		return 0, gpuDeviceInfo.CountError
	}
	return len(gpuDeviceInfo.Devices), nvml.SUCCESS
}

func (gpuDeviceInfo *MockDeviceInfo) DeviceHandleByIndex(i int) (nvml.Device, nvml.Return) {
	if i < 0 || i >= len(gpuDeviceInfo.Devices) {
		return nvml.Device{}, nvml.ERROR_INVALID_ARGUMENT
	}
	gpuDeviceInfo.CurrentDevice = i
	return nvml.Device{}, nvml.SUCCESS
}

func (gpuDeviceInfo *MockDeviceInfo) PciInfo(d nvml.Device) (nvml.PciInfo, nvml.Return) {
	var busID [32]int8
	for i, c := range []byte(gpuDeviceInfo.Devices[gpuDeviceInfo.CurrentDevice].BusID) {
		if i == len(busID)-1 {
			break
		}
		busID[i] = int8(c)
	}
	return nvml.PciInfo{BusId: busID}, nvml.SUCCESS
}

func (gpuDeviceInfo *MockDeviceInfo) UUID(d nvml.Device) (string, nvml.Return) {
	return gpuDeviceInfo.Devices[gpuDeviceInfo.CurrentDevice].UUID, nvml.SUCCESS
}
