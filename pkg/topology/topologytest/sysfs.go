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

// Package topologytest builds synthetic sysfs trees for tests.
package topologytest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing/fstest"

	"k8s.io/utils/cpuset"
)

// MachineSpec describes a symmetric machine. CPUs are numbered the way
// Linux numbers them on x86: the first thread of every core across all
// packages, then the second thread of every core, and so on.
type MachineSpec struct {
	Packages        int
	CoresPerPackage int
	ThreadsPerCore  int
	// NUMANodesPerPackage splits each package's cores evenly between nodes.
	// Zero leaves NUMA information out of the tree.
	NUMANodesPerPackage int
	GPUs                []GPU
}

// GPU is an NVIDIA display controller.
type GPU struct {
	BusID string
	// LocalCPUs is written to local_cpulist unless empty.
	LocalCPUs string
	// NUMANode is written to numa_node.
	NUMANode int
}

// CPU returns the OS index of a thread.
func (m MachineSpec) CPU(pkg, core, thread int) int {
	return thread*m.Packages*m.CoresPerPackage + pkg*m.CoresPerPackage + core
}

// NodeCPUs returns the CPUs of NUMA node id.
func (m MachineSpec) NodeCPUs(id int) cpuset.CPUSet {
	pkg := id / m.NUMANodesPerPackage
	per := m.CoresPerPackage / m.NUMANodesPerPackage
	first := (id % m.NUMANodesPerPackage) * per
	var cpus []int
	for core := first; core < first+per; core++ {
		for thread := 0; thread < m.ThreadsPerCore; thread++ {
			cpus = append(cpus, m.CPU(pkg, core, thread))
		}
	}
	return cpuset.New(cpus...)
}

// Sysfs renders the machine as a tree rooted like /sys.
func (m MachineSpec) Sysfs() fstest.MapFS {
	fsys := fstest.MapFS{}
	total := m.Packages * m.CoresPerPackage * m.ThreadsPerCore
	Write(fsys, "devices/system/cpu/online", fmt.Sprintf("0-%d", total-1))

	for pkg := 0; pkg < m.Packages; pkg++ {
		for core := 0; core < m.CoresPerPackage; core++ {
			var siblings []int
			for thread := 0; thread < m.ThreadsPerCore; thread++ {
				siblings = append(siblings, m.CPU(pkg, core, thread))
			}
			for _, cpu := range siblings {
				dir := fmt.Sprintf("devices/system/cpu/cpu%d/topology/", cpu)
				Write(fsys, dir+"physical_package_id", strconv.Itoa(pkg))
				Write(fsys, dir+"core_id", strconv.Itoa(core))
				Write(fsys, dir+"core_cpus_list", cpuset.New(siblings...).String())
				Write(fsys, dir+"thread_siblings_list", cpuset.New(siblings...).String())
			}
		}
	}

	if m.NUMANodesPerPackage > 0 {
		nodes := m.Packages * m.NUMANodesPerPackage
		Write(fsys, "devices/system/node/online", fmt.Sprintf("0-%d", nodes-1))
		for id := 0; id < nodes; id++ {
			Write(fsys, fmt.Sprintf("devices/system/node/node%d/cpulist", id), m.NodeCPUs(id).String())
		}
	}

	for _, gpu := range m.GPUs {
		AddGPU(fsys, gpu)
	}
	return fsys
}

// AddGPU adds an NVIDIA GPU to the PCI device tree.
func AddGPU(fsys fstest.MapFS, gpu GPU) {
	dir := "bus/pci/devices/" + gpu.BusID + "/"
	Write(fsys, dir+"vendor", "0x10de")
	Write(fsys, dir+"class", "0x030200")
	Write(fsys, dir+"numa_node", strconv.Itoa(gpu.NUMANode))
	if gpu.LocalCPUs != "" {
		Write(fsys, dir+"local_cpulist", gpu.LocalCPUs)
	}
}

// Write stores content followed by a newline, as sysfs does.
func Write(fsys fstest.MapFS, name, content string) {
	fsys[name] = &fstest.MapFile{Data: []byte(content + "\n"), Mode: 0444}
}

// WriteTree copies fsys into dir so it can be read through os.DirFS.
func WriteTree(dir string, fsys fstest.MapFS) error {
	for name, f := range fsys {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(p, f.Data, 0644); err != nil {
			return err
		}
	}
	return nil
}
