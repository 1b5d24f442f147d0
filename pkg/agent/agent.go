/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package agent implements the local logcat agent: it discovers attached
// Android devices through adb, streams their logcat output and pushes
// parsed events to the relay over a persistent WebSocket connection.
package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tqdaoinfo108/dev-tools/pkg/adb"
	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

// Agent ties together device discovery, per-device log readers and the
// relay client.
type Agent struct {
	cfg    *Config
	adb    *adb.Client
	client *RelayClient
	logger logger.Logger

	mu      sync.Mutex
	readers map[string]*deviceReader // serial -> reader
}

// New creates an agent from a validated config.
func New(cfg *Config, log logger.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		adb:     adb.NewClient(cfg.ADBPath, log),
		logger:  log,
		readers: make(map[string]*deviceReader),
	}

	a.client = NewRelayClient(cfg, a.devicePayload, log)

	return a, nil
}

// Run starts the relay client and the device poll loop, blocking until
// the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	go func() {
		if err := a.client.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("Relay client stopped")
		}
	}()

	a.synchronizeDevices(ctx)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.stopAllReaders()
			return ctx.Err()
		case <-ticker.C:
			a.synchronizeDevices(ctx)
		}
	}
}

// synchronizeDevices polls adb for the current serial set, diffs it
// against the tracked set, starts readers for newly appeared devices and
// stops readers for devices that disappeared. Any change pushes a fresh
// device list to the relay.
func (a *Agent) synchronizeDevices(ctx context.Context) {
	serials, err := a.adb.ListDevices(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to list adb devices")
		return
	}

	added, removed := a.diffDevices(serials)

	for _, serial := range added {
		name := a.adb.ResolveName(ctx, serial)
		a.startReader(ctx, serial, name)
	}

	for _, serial := range removed {
		a.stopReader(serial)
	}

	if len(added) > 0 || len(removed) > 0 {
		a.client.SendDevices(a.devicePayload())
	}
}

// diffDevices computes which serials appeared and disappeared relative
// to the tracked reader set.
func (a *Agent) diffDevices(serials []string) (added, removed []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := make(map[string]struct{}, len(serials))

	for _, serial := range serials {
		current[serial] = struct{}{}

		if _, ok := a.readers[serial]; !ok {
			added = append(added, serial)
		}
	}

	for serial := range a.readers {
		if _, ok := current[serial]; !ok {
			removed = append(removed, serial)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)

	return added, removed
}

// devicePayload snapshots the tracked devices for identify and
// device-list messages.
func (a *Agent) devicePayload() []models.AgentDevice {
	a.mu.Lock()
	defer a.mu.Unlock()

	devices := make([]models.AgentDevice, 0, len(a.readers))

	for _, reader := range a.readers {
		devices = append(devices, models.AgentDevice{
			Serial: reader.serial,
			Name:   reader.name,
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Serial < devices[j].Serial
	})

	return devices
}

func (a *Agent) tracked(serial string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.readers[serial]

	return ok
}

func (a *Agent) stopAllReaders() {
	a.mu.Lock()
	readers := make([]*deviceReader, 0, len(a.readers))

	for _, reader := range a.readers {
		readers = append(readers, reader)
	}

	a.readers = make(map[string]*deviceReader)
	a.mu.Unlock()

	for _, reader := range readers {
		reader.stop()
	}
}
