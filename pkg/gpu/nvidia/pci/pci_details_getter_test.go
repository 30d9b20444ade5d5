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
	"errors"
	"testing"
	"testing/fstest"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/nvmlutil"
)

func pciDevice(fsys fstest.MapFS, busID, vendor, class string) {
	fsys[DevicesDir+"/"+busID+"/vendor"] = &fstest.MapFile{Data: []byte(vendor + "\n")}
	fsys[DevicesDir+"/"+busID+"/class"] = &fstest.MapFile{Data: []byte(class + "\n")}
}

func TestSysPciDetailsGetter(t *testing.T) {
	fsys := fstest.MapFS{}
	pciDevice(fsys, "0000:af:00.0", "0x10de", "0x030200")
	pciDevice(fsys, "0000:3b:00.0", "0x10de", "0x030000")
	// NVIDIA audio function on the same board, not a GPU.
	pciDevice(fsys, "0000:3b:00.1", "0x10de", "0x040300")
	// Some other vendor's display controller.
	pciDevice(fsys, "0000:02:00.0", "0x1a03", "0x030000")
	// Unreadable class is skipped.
	fsys[DevicesDir+"/0000:00:1f.0/vendor"] = &fstest.MapFile{Data: []byte("0x10de")}

	getter, err := NewSysPciDetailsGetter(fsys)
	require.NoError(t, err)

	busID, err := getter.GetPciBusID(0)
	assert.NoError(t, err)
	assert.Equal(t, "0000:3b:00.0", busID)

	busID, err = getter.GetPciBusID(1)
	assert.NoError(t, err)
	assert.Equal(t, "0000:af:00.0", busID)

	_, err = getter.GetPciBusID(2)
	assert.True(t, errors.Is(err, ErrNoSuchDevice))
}

func TestSysPciDetailsGetter_MissingDirectory(t *testing.T) {
	_, err := NewSysPciDetailsGetter(fstest.MapFS{})
	assert.Error(t, err)
}

func withMockNvml(t *testing.T, mock *nvmlutil.MockDeviceInfo) {
	nvmlutil.NvmlDeviceInfo = mock
	t.Cleanup(func() { nvmlutil.NvmlDeviceInfo = nil })
}

func TestNvmlPciDetailsGetter(t *testing.T) {
	withMockNvml(t, &nvmlutil.MockDeviceInfo{
		Devices: []nvmlutil.MockDevice{
			{BusID: "00000000:3B:00.0", UUID: "GPU-aaaa-1111"},
			{BusID: "00000000:AF:00.0", UUID: "GPU-bbbb-2222"},
		},
	})

	getter, err := NewNvmlPciDetailsGetter()
	require.NoError(t, err)

	busID, err := getter.GetPciBusID(1)
	assert.NoError(t, err)
	assert.Equal(t, "0000:af:00.0", busID)

	_, err = getter.GetPciBusID(2)
	assert.True(t, errors.Is(err, ErrNoSuchDevice))
	_, err = getter.GetPciBusID(-1)
	assert.True(t, errors.Is(err, ErrNoSuchDevice))

	resolver, ok := getter.(UUIDResolver)
	require.True(t, ok)
	index, err := resolver.IndexForUUID("GPU-bbbb")
	assert.NoError(t, err)
	assert.Equal(t, 1, index)

	_, err = resolver.IndexForUUID("GPU-")
	assert.Error(t, err)
	_, err = resolver.IndexForUUID("GPU-cccc")
	assert.True(t, errors.Is(err, ErrNoSuchDevice))
}

func TestNvmlPciDetailsGetter_CountFails(t *testing.T) {
	withMockNvml(t, &nvmlutil.MockDeviceInfo{CountError: nvml.ERROR_UNINITIALIZED})

	_, err := NewNvmlPciDetailsGetter()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get device count: NVML was not initialized")
}

func TestVisibleDevicesGetter(t *testing.T) {
	withMockNvml(t, &nvmlutil.MockDeviceInfo{
		Devices: []nvmlutil.MockDevice{
			{BusID: "00000000:1A:00.0", UUID: "GPU-aaaa"},
			{BusID: "00000000:3B:00.0", UUID: "GPU-bbbb"},
			{BusID: "00000000:AF:00.0", UUID: "GPU-cccc"},
		},
	})
	inner, err := NewNvmlPciDetailsGetter()
	require.NoError(t, err)

	testcases := []struct {
		name    string
		value   string
		ordinal int
		want    string
		wantErr bool
	}{
		{name: "reordered", value: "2,0", ordinal: 0, want: "0000:af:00.0"},
		{name: "second entry", value: "2,0", ordinal: 1, want: "0000:1a:00.0"},
		{name: "uuid", value: "GPU-bbbb", ordinal: 0, want: "0000:3b:00.0"},
		{name: "spaces", value: " 1 , 2 ", ordinal: 1, want: "0000:af:00.0"},
		{name: "past the list", value: "1", ordinal: 1, wantErr: true},
		{name: "empty hides all", value: "", ordinal: 0, wantErr: true},
		{name: "invalid entry ends list", value: "0,x,2", ordinal: 2, wantErr: true},
		{name: "entries before invalid stay visible", value: "0,x,2", ordinal: 0, want: "0000:1a:00.0"},
		{name: "unknown index ends list", value: "7,1", ordinal: 1, wantErr: true},
		{name: "duplicate ends list", value: "1,1", ordinal: 1, wantErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewVisibleDevicesGetter(inner, tc.value).GetPciBusID(tc.ordinal)
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrNoSuchDevice), "got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVisibleDevicesGetter_UUIDWithoutNvml(t *testing.T) {
	fsys := fstest.MapFS{}
	pciDevice(fsys, "0000:3b:00.0", "0x10de", "0x030200")
	inner, err := NewSysPciDetailsGetter(fsys)
	require.NoError(t, err)

	_, err = NewVisibleDevicesGetter(inner, "GPU-aaaa").GetPciBusID(0)
	assert.Error(t, err)

	busID, err := NewVisibleDevicesGetter(inner, "0").GetPciBusID(0)
	assert.NoError(t, err)
	assert.Equal(t, "0000:3b:00.0", busID)
}
