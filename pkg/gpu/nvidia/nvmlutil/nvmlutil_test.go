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
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeBusID(t *testing.T) {
	testcases := []struct {
		name    string
		busID   string
		want    string
		wantErr bool
	}{
		{name: "nvml form", busID: "00000000:3B:00.0", want: "0000:3b:00.0"},
		{name: "sysfs form", busID: "0000:af:00.0", want: "0000:af:00.0"},
		{name: "short domain", busID: "1:04:00.0", want: "0001:04:00.0"},
		{name: "wide non-zero domain", busID: "00010000:3B:00.0", wantErr: true},
		{name: "missing separator", busID: "garbage", wantErr: true},
		{name: "empty", busID: "", wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeBusID(tc.busID)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPciBusIDFromMock(t *testing.T) {
	NvmlDeviceInfo = &MockDeviceInfo{
		Devices: []MockDevice{{BusID: "00000000:AF:00.0", UUID: "GPU-1"}},
	}
	defer func() { NvmlDeviceInfo = nil }()

	d, ret := Operations().DeviceHandleByIndex(0)
	assert.Equal(t, nvml.SUCCESS, ret)

	busID, err := PciBusID(d)
	assert.NoError(t, err)
	assert.Equal(t, "0000:af:00.0", busID)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NVML shared library not found", ErrorString(nvml.ERROR_LIBRARY_NOT_FOUND))
	assert.Equal(t, "invalid argument", ErrorString(nvml.ERROR_INVALID_ARGUMENT))
	assert.Equal(t, "NVML return code 4242", ErrorString(nvml.Return(4242)))
}
