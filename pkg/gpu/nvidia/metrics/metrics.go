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

// Package metrics exports nearest-core results for the node_exporter
// textfile collector.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/nearest"
)

const cpuInfoName = "nearest_gpu_cpu_info"

var cpuInfoLabels = []string{"device", "pci_bus_id", "object_type", "object_index", "locality_type", "locality_index", "cpu"}

// newCPUInfo returns a gauge set to 1 for the labels describing r.
func newCPUInfo(r *nearest.Result) *prometheus.GaugeVec {
	info := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: cpuInfoName,
			Help: "CPU nearest to a GPU, with the topology objects that describe it",
		},
		cpuInfoLabels)
	info.WithLabelValues(labelValues(r)...).Set(1)
	return info
}

func labelValues(r *nearest.Result) []string {
	return []string{
		strconv.Itoa(r.Device),
		r.PCIBusID,
		r.Object.Type,
		strconv.Itoa(r.Object.LogicalIndex),
		r.Locality.Type,
		strconv.Itoa(r.Locality.LogicalIndex),
		strconv.Itoa(r.CPU),
	}
}

// WriteTextfile writes r to path in the Prometheus text format. The file is
// replaced atomically.
func WriteTextfile(path string, r *nearest.Result) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(newCPUInfo(r)); err != nil {
		return fmt.Errorf("failed to register %s: %w", cpuInfoName, err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	glog.V(1).Infof("Wrote %s for GPU %d to %s", cpuInfoName, r.Device, path)
	return nil
}
