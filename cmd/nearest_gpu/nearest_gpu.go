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

// Command nearest_gpu prints the CPU core closest to a CUDA device, e.g.
// "Core #4 in NUMANode #1".
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/golang/glog"
	log "github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"

	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/metrics"
	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/nearest"
	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/nvmlutil"
	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/pci"
	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/gpu/nvidia/util"
	"github.com/GoogleCloudPlatform/nearest-gpu/pkg/topology"
)

const (
	sourceAuto  = "auto"
	sourceNvml  = "nvml"
	sourceSysfs = "sysfs"

	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// errUsage reports a command line the flag package already complained about.
var errUsage = errors.New("usage error")

// startNvml initializes NVML and returns the matching shutdown.
var startNvml = func() (func(), error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to initialize nvml: %s", nvmlutil.ErrorString(ret))
	}
	return func() { nvml.Shutdown() }, nil
}

type config struct {
	sysDir       string
	deviceSource string
	wholeSystem  bool
	output       string
	textfile     string
	ordinal      int
}

func main() {
	os.Exit(run(filepath.Base(os.Args[0]), os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr))
}

func parseArgs(name string, args []string, stderr io.Writer) (*config, error) {
	cfg := &config{}
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.sysDir, "sys-dir", "/sys", "Root of the sysfs tree describing the machine")
	flags.StringVar(&cfg.deviceSource, "device-source", sourceAuto, "How CUDA device indices are mapped to PCI devices: auto, nvml or sysfs. auto uses NVML when the driver is available and falls back to sysfs")
	flags.BoolVar(&cfg.wholeSystem, "whole-system", false, "If true, consider CPUs outside this process's affinity mask")
	flags.StringVar(&cfg.output, "output", outputText, "Output format: text, json or yaml")
	flags.StringVar(&cfg.textfile, "textfile", "", "If set, also write the result to this file in the Prometheus text format")
	// glog registers -v, -logtostderr and friends on the default set.
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		flags.Var(f.Value, f.Name, f.Usage)
	})
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [-h] [flags] [cuda device idx]\n", name)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return nil, errUsage
	}
	switch cfg.deviceSource {
	case sourceAuto, sourceNvml, sourceSysfs:
	default:
		return nil, fmt.Errorf("unknown device source %q", cfg.deviceSource)
	}
	switch cfg.output {
	case outputText, outputJSON, outputYAML:
	default:
		return nil, fmt.Errorf("unknown output format %q", cfg.output)
	}
	if flags.NArg() > 0 {
		ordinal, err := parseOrdinal(flags.Arg(0))
		if err != nil {
			return nil, err
		}
		cfg.ordinal = ordinal
	}
	return cfg, nil
}

// parseOrdinal reads the leading decimal integer of arg, like scanf's %d.
// An argument without one selects device 0.
func parseOrdinal(arg string) (int, error) {
	s := strings.TrimLeft(arg, " \t\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, nil
	}
	ordinal, err := strconv.Atoi(s[:end])
	if err != nil || ordinal < 0 {
		return 0, fmt.Errorf("invalid cuda device idx %q", arg)
	}
	return ordinal, nil
}

func run(name string, args []string, lookupEnv func(string) (string, bool), stdout, stderr io.Writer) int {
	logger := util.NewLogger(stderr, nil)

	cfg, err := parseArgs(name, args, stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			logger.Error(err)
		}
		return 1
	}
	defer glog.Flush()

	sysfs := os.DirFS(cfg.sysDir)
	devices, stop, err := newDeviceGetter(cfg.deviceSource, sysfs, logger)
	if err != nil {
		logger.Errorf("Unable to enumerate GPUs: %v", err)
		return 1
	}
	defer stop()
	if value, ok := lookupEnv(pci.VisibleDevicesEnv); ok {
		devices = pci.NewVisibleDevicesGetter(devices, value)
	}

	topo, err := topology.Load(topology.Options{
		SysFS:       sysfs,
		IODevices:   true,
		Devices:     devices,
		WholeSystem: cfg.wholeSystem,
	})
	if err != nil {
		logger.Errorf("Unable to load topology: %v", err)
		return 1
	}
	defer closeTopology(topo, logger)

	res, err := nearest.Resolve(topo, cfg.ordinal, logger)
	if err != nil {
		reportResolveError(logger, cfg.ordinal, err)
		return 1
	}

	if err := printResult(stdout, cfg.output, res); err != nil {
		logger.Errorf("Unable to print result: %v", err)
		return 1
	}
	if cfg.textfile != "" {
		if err := metrics.WriteTextfile(cfg.textfile, res); err != nil {
			logger.Error(err)
			return 1
		}
	}
	return 0
}

func closeTopology(topo *topology.Topology, logger log.FieldLogger) {
	if err := topo.Close(); err != nil {
		logger.Warnf("Closing topology: %v", err)
	}
}

// newDeviceGetter returns the ordinal to PCI bus id mapping for source and
// a function releasing what it holds.
func newDeviceGetter(source string, sysfs fs.FS, logger log.FieldLogger) (pci.PciDetailsGetter, func(), error) {
	if source == sourceNvml || source == sourceAuto {
		devices, stop, err := newNvmlDeviceGetter()
		if err == nil {
			return devices, stop, nil
		}
		if source == sourceNvml {
			return nil, nil, err
		}
		logger.Debugf("NVML unavailable, enumerating GPUs through sysfs: %v", err)
		glog.V(1).Infof("Falling back to sysfs: %v", err)
	}
	devices, err := pci.NewSysPciDetailsGetter(sysfs)
	if err != nil {
		return nil, nil, err
	}
	return devices, func() {}, nil
}

func newNvmlDeviceGetter() (pci.PciDetailsGetter, func(), error) {
	stop, err := startNvml()
	if err != nil {
		return nil, nil, err
	}
	devices, err := pci.NewNvmlPciDetailsGetter()
	if err != nil {
		stop()
		return nil, nil, err
	}
	return devices, stop, nil
}

func reportResolveError(logger log.FieldLogger, ordinal int, err error) {
	switch {
	case errors.Is(err, topology.ErrDeviceNotFound), errors.Is(err, topology.ErrNoAffinity):
		logger.Errorf("Unable to find CPU/core nearest CUDA device %d!", ordinal)
	case errors.Is(err, nearest.ErrNoCore):
		logger.Errorf("Unable to find a core local to CUDA device %d!", ordinal)
	default:
		logger.Errorf("Unable to describe the core nearest CUDA device %d!", ordinal)
	}
	glog.V(1).Infof("Resolving device %d: %v", ordinal, err)
}

func printResult(w io.Writer, format string, res *nearest.Result) error {
	switch format {
	case outputJSON:
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case outputYAML:
		data, err := yaml.Marshal(res)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(w, res.String())
		return err
	}
}
