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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

func TestUpsertDevicesIsIdempotent(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	devices := []models.AgentDevice{
		{Serial: "X1", Name: "Pixel 7"},
		{Serial: "X2", Name: "Galaxy S23"},
	}

	first := reg.UpsertDevices("a1", "agent-one", devices)
	second := reg.UpsertDevices("a1", "agent-one", devices)

	require.Len(t, first, 2)
	require.Len(t, second, 2)

	for i := range first {
		assert.Equal(t, first[i].Serial, second[i].Serial)
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].AgentID, second[i].AgentID)
	}
}

func TestUpsertDevicesRemovesMissingSerials(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	reg.UpsertDevices("a1", "agent-one", []models.AgentDevice{
		{Serial: "X1"},
		{Serial: "X2"},
	})

	snapshot := reg.UpsertDevices("a1", "agent-one", []models.AgentDevice{
		{Serial: "X2"},
	})

	require.Len(t, snapshot, 1)
	assert.Equal(t, "X2", snapshot[0].Serial)
}

func TestSameSerialAcrossAgentsStaysDistinct(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	reg.UpsertDevices("a1", "agent-one", []models.AgentDevice{{Serial: "SHARED"}})
	reg.UpsertDevices("a2", "agent-two", []models.AgentDevice{{Serial: "SHARED"}})

	snapshot := reg.Snapshot()

	require.Len(t, snapshot, 2)
	assert.Equal(t, "a1", snapshot[0].AgentID)
	assert.Equal(t, "a2", snapshot[1].AgentID)
	assert.Equal(t, "SHARED", snapshot[0].Serial)
	assert.Equal(t, "SHARED", snapshot[1].Serial)
}

func TestRemoveAgentPurgesAllOwnedDevices(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	reg.UpsertDevices("a1", "agent-one", []models.AgentDevice{
		{Serial: "X1"},
		{Serial: "X2"},
		{Serial: "X3"},
	})
	reg.UpsertDevices("a2", "agent-two", []models.AgentDevice{{Serial: "Y1"}})

	snapshot := reg.RemoveAgent("a1")

	require.Len(t, snapshot, 1)
	assert.Equal(t, "a2", snapshot[0].AgentID)

	for _, summary := range reg.Snapshot() {
		assert.NotEqual(t, "a1", summary.AgentID)
	}
}

func TestSnapshotSortsByAgentNameThenSerial(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	reg.UpsertDevices("a2", "bravo", []models.AgentDevice{{Serial: "B2"}, {Serial: "B1"}})
	reg.UpsertDevices("a1", "alpha", []models.AgentDevice{{Serial: "A9"}, {Serial: "A1"}})

	snapshot := reg.Snapshot()

	require.Len(t, snapshot, 4)
	assert.Equal(t, "A1", snapshot[0].Serial)
	assert.Equal(t, "A9", snapshot[1].Serial)
	assert.Equal(t, "B1", snapshot[2].Serial)
	assert.Equal(t, "B2", snapshot[3].Serial)
}

func TestTouchCreatesAndRefreshesMembership(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	snapshot := reg.Touch("a1", "agent-one", "X1", "")

	require.Len(t, snapshot, 1)
	assert.Equal(t, "X1", snapshot[0].Serial)
	// Name falls back to the serial when the agent did not provide one.
	assert.Equal(t, "X1", snapshot[0].Name)

	snapshot = reg.Touch("a1", "agent-one", "X1", "Pixel 7")

	require.Len(t, snapshot, 1)
	assert.Equal(t, "Pixel 7", snapshot[0].Name)
	assert.Equal(t, "Pixel 7", reg.DeviceName("a1", "X1"))
}

func TestTouchIgnoresEmptySerial(t *testing.T) {
	reg := NewDeviceRegistry(logger.NewTestLogger())

	snapshot := reg.Touch("a1", "agent-one", "", "nameless")

	assert.Empty(t, snapshot)
}
