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

// Package nearest finds the CPU core closest to a GPU.
package nearest

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	log "github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/topology"
)

var (
	// ErrNoCore is returned when the GPU's CPUs do not contain a whole core.
	ErrNoCore = errors.New("no core found in the given set")
	// ErrNoDescription is returned when the chosen core or its locality
	// cannot be named.
	ErrNoDescription = errors.New("unable to describe nearest core")
)

// Locality names a topology object.
type Locality struct {
	Type         string `json:"type"`
	LogicalIndex int    `json:"logical_index"`
	OSIndex      int    `json:"os_index"`
}

func localityOf(obj *topology.Object) Locality {
	return Locality{Type: obj.Type.String(), LogicalIndex: obj.LogicalIndex, OSIndex: obj.OSIndex}
}

// Result describes the core chosen for a GPU.
type Result struct {
	Device   int    `json:"device"`
	PCIBusID string `json:"pci_bus_id"`
	// Object is the chosen core, or its PU when the core has several threads.
	Object Locality `json:"object"`
	// Locality is the NUMA node, or package, enclosing the GPU's CPUs.
	Locality Locality `json:"locality"`
	// CPU is the OS index of the processor to run on.
	CPU          int    `json:"cpu"`
	DeviceCPUSet string `json:"device_cpuset"`
}

func (r *Result) String() string {
	return fmt.Sprintf("%s #%d in %s #%d", r.Object.Type, r.Object.LogicalIndex, r.Locality.Type, r.Locality.LogicalIndex)
}

// Resolve picks one processor of the first core local to the GPU with the
// given ordinal and describes it. topo must have been loaded with I/O
// device discovery enabled. Every bitmap allocated here is freed before
// returning, on success and on error.
func Resolve(topo *topology.Topology, ordinal int, logger log.FieldLogger) (*Result, error) {
	var (
		deviceSet, coreSet *topology.Bitmap
		err                error
	)
	defer func() {
		deviceSet.Free()
		coreSet.Free()
	}()

	deviceSet, err = topo.DeviceCPUSet(ordinal)
	if err != nil {
		return nil, fmt.Errorf("unable to find CPU/core nearest GPU device %d: %w", ordinal, err)
	}

	coreSet, err = selectCore(topo, deviceSet)
	if err != nil {
		return nil, err
	}

	obj, loc, err := describe(topo, deviceSet, coreSet, logger)
	if err != nil {
		return nil, err
	}

	busID, err := topo.DeviceBusID(ordinal)
	if err != nil {
		return nil, err
	}
	return &Result{
		Device:       ordinal,
		PCIBusID:     busID,
		Object:       localityOf(obj),
		Locality:     localityOf(loc),
		CPU:          coreSet.First(),
		DeviceCPUSet: deviceSet.String(),
	}, nil
}

// selectCore returns a single-CPU bitmap for the first core inside set.
// Hyperthread siblings are dropped, keeping the lowest CPU.
func selectCore(topo *topology.Topology, set *topology.Bitmap) (*topology.Bitmap, error) {
	core := topo.NextObjInsideCPUSet(set, topology.Core, nil)
	if core == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCore, set)
	}
	res, err := topo.NewBitmap(core.CPUSet)
	if err != nil {
		return nil, err
	}
	res.Singlify()
	if res.Weight() != 1 {
		res.Free()
		return nil, fmt.Errorf("%w: %s has no CPUs", ErrNoCore, core)
	}
	glog.V(2).Infof("Selected CPU %s of %s (CPUs %s)", res, core, core.CPUSet)
	return res, nil
}

// describe finds the objects to report: a core (or PU) inside the chosen
// CPU, and a NUMA node (or package) inside the device's CPUs.
func describe(topo *topology.Topology, deviceSet, coreSet *topology.Bitmap, logger log.FieldLogger) (*topology.Object, *topology.Object, error) {
	obj := topo.ObjInsideCPUSet(coreSet, topology.Core, 0)
	if obj == nil {
		obj = topo.ObjInsideCPUSet(coreSet, topology.PU, 0)
		if obj == nil {
			logger.Warnf("Unable to find bind object in CPUs %s", coreSet)
		}
	}

	loc := topo.ObjInsideCPUSet(deviceSet, topology.NUMANode, 0)
	if loc == nil {
		loc = topo.ObjInsideCPUSet(deviceSet, topology.Package, 0)
		if loc == nil {
			logger.Warnf("Unable to find NUMA node or package in CPUs %s", deviceSet)
		}
	}

	if obj == nil || loc == nil {
		return nil, nil, ErrNoDescription
	}
	return obj, loc, nil
}
