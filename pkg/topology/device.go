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

package topology

import (
	"fmt"

	"github.com/golang/glog"
	"k8s.io/utils/cpuset"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/pci"
)

const localCpulistFile = pci.DevicesDir + "/%s/local_cpulist"

// DeviceBusID returns the PCI bus id of the GPU with the given ordinal.
func (t *Topology) DeviceBusID(ordinal int) (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	if t.devices == nil {
		return "", fmt.Errorf("%w: I/O device discovery is disabled", ErrDeviceNotFound)
	}
	busID, err := t.devices.GetPciBusID(ordinal)
	if err != nil {
		return "", fmt.Errorf("%w: GPU %d: %v", ErrDeviceNotFound, ordinal, err)
	}
	return busID, nil
}

// DeviceCPUSet returns a new bitmap with the CPUs local to the GPU with the
// given ordinal. The caller must Free it.
//
// Locality comes from the device's local_cpulist. If the kernel does not
// report one, or reports an empty one, the CPUs of the device's NUMA node are used, and failing that
// every CPU of the topology.
func (t *Topology) DeviceCPUSet(ordinal int) (*Bitmap, error) {
	busID, err := t.DeviceBusID(ordinal)
	if err != nil {
		return nil, err
	}

	set := t.deviceLocalCPUs(busID).Intersection(t.complete)
	if set.IsEmpty() {
		return nil, fmt.Errorf("%w: GPU %d at %s", ErrNoAffinity, ordinal, busID)
	}
	glog.V(2).Infof("GPU %d at %s is local to CPUs %s", ordinal, busID, set)
	return t.NewBitmap(set)
}

func (t *Topology) deviceLocalCPUs(busID string) cpuset.CPUSet {
	set, err := readCPUSet(t.sysfs, localCpulistFile, busID)
	switch {
	case err != nil:
		glog.V(2).Infof("No local_cpulist for %s, trying its NUMA node: %v", busID, err)
	case set.IsEmpty():
		// Some platforms report an empty mask instead of omitting the file.
		glog.V(2).Infof("Empty local_cpulist for %s, trying its NUMA node", busID)
	default:
		return set
	}

	node, err := t.numaNodes.Get(busID)
	if err != nil {
		glog.V(2).Infof("No NUMA node for %s: %v", busID, err)
		return t.complete
	}
	for _, obj := range t.objects[NUMANode] {
		if obj.OSIndex == node {
			return obj.CPUSet
		}
	}
	return t.complete
}
