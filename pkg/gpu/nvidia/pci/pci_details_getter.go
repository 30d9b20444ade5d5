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

// Package pci maps GPU device ordinals to PCI bus ids.
package pci

import "errors"

// ErrNoSuchDevice is returned when an ordinal does not name a visible GPU.
var ErrNoSuchDevice = errors.New("no such GPU device")

// PciDetailsGetter maps a GPU ordinal to the device's PCI bus id in sysfs
// form, e.g. 0000:3b:00.0.
type PciDetailsGetter interface {
	GetPciBusID(ordinal int) (string, error)
}

// UUIDResolver is implemented by getters that know GPU UUIDs. It is used to
// honour UUID entries in CUDA_VISIBLE_DEVICES.
type UUIDResolver interface {
	// IndexForUUID returns the physical index of the single GPU whose UUID
	// starts with prefix.
	IndexForUUID(prefix string) (int, error)
}
