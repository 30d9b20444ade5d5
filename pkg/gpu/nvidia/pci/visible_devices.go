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
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// VisibleDevicesEnv restricts and reorders the GPUs an application sees.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

const uuidPrefix = "GPU-"

// NewVisibleDevicesGetter wraps inner so that ordinals are interpreted
// relative to a CUDA_VISIBLE_DEVICES value. Entries are physical indices or
// GPU UUID prefixes; the list ends at the first entry that is malformed,
// unknown or repeated, and an empty value hides every device.
func NewVisibleDevicesGetter(inner PciDetailsGetter, value string) PciDetailsGetter {
	var entries []string
	if strings.TrimSpace(value) != "" {
		for _, e := range strings.Split(value, ",") {
			entries = append(entries, strings.TrimSpace(e))
		}
	}
	glog.V(2).Infof("%s restricts GPUs to %q", VisibleDevicesEnv, entries)
	return &visibleDevicesGetter{inner: inner, entries: entries}
}

type visibleDevicesGetter struct {
	inner   PciDetailsGetter
	entries []string
}

func (v *visibleDevicesGetter) GetPciBusID(ordinal int) (string, error) {
	if ordinal < 0 || ordinal >= len(v.entries) {
		return "", fmt.Errorf("%w: index %d, %s lists %d GPUs", ErrNoSuchDevice, ordinal, VisibleDevicesEnv, len(v.entries))
	}

	seen := make(map[int]bool, ordinal+1)
	var physical int
	for i := 0; i <= ordinal; i++ {
		index, err := v.physicalIndex(v.entries[i])
		if err == nil && seen[index] {
			err = fmt.Errorf("GPU %d listed twice", index)
		}
		if err == nil {
			_, err = v.inner.GetPciBusID(index)
		}
		if err != nil {
			return "", fmt.Errorf("%w: index %d, %s entry %q ends the visible list: %v", ErrNoSuchDevice, ordinal, VisibleDevicesEnv, v.entries[i], err)
		}
		seen[index] = true
		physical = index
	}
	return v.inner.GetPciBusID(physical)
}

func (v *visibleDevicesGetter) physicalIndex(entry string) (int, error) {
	if strings.HasPrefix(entry, uuidPrefix) {
		resolver, ok := v.inner.(UUIDResolver)
		if !ok {
			return -1, fmt.Errorf("GPU UUIDs cannot be resolved without NVML")
		}
		return resolver.IndexForUUID(entry)
	}
	index, err := strconv.Atoi(entry)
	if err != nil || index < 0 {
		return -1, fmt.Errorf("malformed entry")
	}
	return index, nil
}
