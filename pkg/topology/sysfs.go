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
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"k8s.io/utils/cpuset"
)

// Paths relative to the sysfs root.
const (
	cpuOnline       = "devices/system/cpu/online"
	nodeOnline      = "devices/system/node/online"
	nodeCpulistFile = "devices/system/node/node%d/cpulist"
	cpuPackageFile  = "devices/system/cpu/cpu%d/topology/physical_package_id"
	cpuCoreIDFile   = "devices/system/cpu/cpu%d/topology/core_id"
	cpuCoreCpusFile = "devices/system/cpu/cpu%d/topology/core_cpus_list"
	// Older kernels only provide the deprecated name.
	cpuSiblingFile = "devices/system/cpu/cpu%d/topology/thread_siblings_list"
)

// rawObject is an object before logical numbering.
type rawObject struct {
	osIndex int
	cpus    cpuset.CPUSet
	// pkg is the OS index of the enclosing package, or -1.
	pkg int
}

type levels struct {
	complete cpuset.CPUSet
	packages []rawObject
	nodes    []rawObject
	cores    []rawObject
	pus      []rawObject
}

func scanSysfs(sysfs fs.FS) (*levels, error) {
	online, err := readCPUSet(sysfs, cpuOnline)
	if err != nil {
		return nil, err
	}

	l := &levels{complete: online}
	packages := map[int]cpuset.CPUSet{}
	cores := map[string]*rawObject{}

	for _, cpu := range online.List() {
		pkg, err := readInt(sysfs, cpuPackageFile, cpu)
		if err != nil || pkg < 0 {
			glog.V(4).Infof("No package information for CPU %d: %v", cpu, err)
			pkg = -1
		} else if cpus, ok := packages[pkg]; ok {
			packages[pkg] = cpus.Union(cpuset.New(cpu))
		} else {
			packages[pkg] = cpuset.New(cpu)
		}
		l.pus = append(l.pus, rawObject{osIndex: cpu, cpus: cpuset.New(cpu), pkg: pkg})

		siblings, err := readCPUSet(sysfs, cpuCoreCpusFile, cpu)
		if err != nil {
			siblings, err = readCPUSet(sysfs, cpuSiblingFile, cpu)
		}
		if err != nil {
			glog.V(4).Infof("No core information for CPU %d: %v", cpu, err)
			continue
		}
		siblings = siblings.Intersection(online)
		if !siblings.Contains(cpu) {
			glog.V(4).Infof("Ignoring core siblings %s of CPU %d", siblings, cpu)
			continue
		}
		key := siblings.String()
		if _, ok := cores[key]; ok {
			continue
		}
		coreID, err := readInt(sysfs, cpuCoreIDFile, cpu)
		if err != nil {
			coreID = -1
		}
		cores[key] = &rawObject{osIndex: coreID, cpus: siblings, pkg: pkg}
	}

	for id, cpus := range packages {
		l.packages = append(l.packages, rawObject{osIndex: id, cpus: cpus, pkg: id})
	}
	for _, c := range cores {
		l.cores = append(l.cores, *c)
	}

	// NUMA information is optional; machines without it simply have no nodes.
	nodeIDs, err := readCPUSet(sysfs, nodeOnline)
	if err != nil {
		glog.V(2).Infof("No NUMA information: %v", err)
		return l, nil
	}
	for _, id := range nodeIDs.List() {
		cpus, err := readCPUSet(sysfs, nodeCpulistFile, id)
		if err != nil {
			glog.V(2).Infof("Skipping NUMA node %d: %v", id, err)
			continue
		}
		l.nodes = append(l.nodes, rawObject{osIndex: id, cpus: cpus.Intersection(online), pkg: -1})
	}
	return l, nil
}

// restrict drops CPUs outside allowed, and objects left without CPUs.
func (l *levels) restrict(allowed cpuset.CPUSet) {
	l.complete = l.complete.Intersection(allowed)
	filter := func(objs []rawObject) []rawObject {
		var kept []rawObject
		for _, o := range objs {
			o.cpus = o.cpus.Intersection(allowed)
			if !o.cpus.IsEmpty() {
				kept = append(kept, o)
			}
		}
		return kept
	}
	l.packages = filter(l.packages)
	l.nodes = filter(l.nodes)
	l.cores = filter(l.cores)
	l.pus = filter(l.pus)
}

// number assigns logical indices. Packages are ordered by their first CPU,
// cores by package then first CPU, PUs by core then OS index with PUs that
// belong to no core last, and NUMA nodes by OS index.
func (l *levels) number() map[ObjType][]*Object {
	first := func(o rawObject) int { return o.cpus.List()[0] }

	sort.Slice(l.packages, func(i, j int) bool { return first(l.packages[i]) < first(l.packages[j]) })
	pkgRank := map[int]int{-1: -1}
	for i, p := range l.packages {
		pkgRank[p.osIndex] = i
	}

	sort.Slice(l.cores, func(i, j int) bool {
		a, b := l.cores[i], l.cores[j]
		if pkgRank[a.pkg] != pkgRank[b.pkg] {
			return pkgRank[a.pkg] < pkgRank[b.pkg]
		}
		return first(a) < first(b)
	})
	coreRank := map[int]int{}
	for i, c := range l.cores {
		for _, cpu := range c.cpus.List() {
			coreRank[cpu] = i
		}
	}

	rank := func(o rawObject) int {
		if r, ok := coreRank[o.osIndex]; ok {
			return r
		}
		return len(l.cores)
	}
	sort.Slice(l.pus, func(i, j int) bool {
		a, b := l.pus[i], l.pus[j]
		if rank(a) != rank(b) {
			return rank(a) < rank(b)
		}
		return a.osIndex < b.osIndex
	})

	sort.Slice(l.nodes, func(i, j int) bool { return l.nodes[i].osIndex < l.nodes[j].osIndex })

	objects := map[ObjType][]*Object{
		Machine: {{Type: Machine, LogicalIndex: 0, OSIndex: 0, CPUSet: l.complete}},
	}
	for typ, raw := range map[ObjType][]rawObject{
		Package:  l.packages,
		NUMANode: l.nodes,
		Core:     l.cores,
		PU:       l.pus,
	} {
		level := make([]*Object, 0, len(raw))
		for i, o := range raw {
			level = append(level, &Object{Type: typ, LogicalIndex: i, OSIndex: o.osIndex, CPUSet: o.cpus})
		}
		objects[typ] = level
	}
	return objects
}

func readCPUSet(sysfs fs.FS, format string, args ...any) (cpuset.CPUSet, error) {
	name := fmt.Sprintf(format, args...)
	b, err := fs.ReadFile(sysfs, name)
	if err != nil {
		return cpuset.New(), err
	}
	set, err := cpuset.Parse(strings.TrimSpace(string(b)))
	if err != nil {
		return cpuset.New(), fmt.Errorf("failed to parse cpulist %q from %s: %v", b, name, err)
	}
	return set, nil
}

func readInt(sysfs fs.FS, format string, args ...any) (int, error) {
	name := fmt.Sprintf(format, args...)
	b, err := fs.ReadFile(sysfs, name)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q from %s: %v", b, name, err)
	}
	return i, nil
}
