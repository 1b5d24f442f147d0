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

package api

import (
	"net/http"

	"github.com/tqdaoinfo108/dev-tools/pkg/adb"
	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

// relayDevicesResponse is the polling view over the relay registry for
// UIs that do not hold a WebSocket open.
type relayDevicesResponse struct {
	Devices    []models.DeviceSummary `json:"devices"`
	AgentCount int                    `json:"agent_count"`
	Error      string                 `json:"error,omitempty"`
}

// getRelayDevices returns the current device snapshot plus the distinct
// agent count. Zero agents is reported in-band: it is the normal state
// when no local agent process is running, not an HTTP error.
func (s *APIServer) getRelayDevices(w http.ResponseWriter, _ *http.Request) {
	resp := relayDevicesResponse{
		Devices:    s.relay.DeviceSnapshot(),
		AgentCount: s.relay.AgentCount(),
	}

	if resp.AgentCount == 0 {
		resp.Error = "no agents connected; run the local logcat agent to collect logs"
	}

	writeJSON(w, http.StatusOK, resp)
}

// adbDevicesResponse mirrors the original dashboard's direct-adb
// endpoint shape.
type adbDevicesResponse struct {
	Success bool     `json:"success"`
	Devices []string `json:"devices,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// getADBDevices lists devices attached to the relay host itself.
func (s *APIServer) getADBDevices(w http.ResponseWriter, r *http.Request) {
	if s.adb == nil {
		writeJSON(w, http.StatusOK, adbDevicesResponse{Error: "adb is not available on this host"})
		return
	}

	serials, err := s.adb.ListDevices(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list adb devices")
		writeJSON(w, http.StatusOK, adbDevicesResponse{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, adbDevicesResponse{Success: true, Devices: serials})
}

type adbLogcatResponse struct {
	Success bool          `json:"success"`
	Logs    []adb.LogLine `json:"logs,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// getADBLogcat returns a one-shot logcat dump for a device attached to
// the relay host.
func (s *APIServer) getADBLogcat(w http.ResponseWriter, r *http.Request) {
	if s.adb == nil {
		writeJSON(w, http.StatusOK, adbLogcatResponse{Error: "adb is not available on this host"})
		return
	}

	serial := r.URL.Query().Get("device")

	lines, err := s.adb.Dump(r.Context(), serial)
	if err != nil {
		s.logger.Warn().Err(err).Str("device", serial).Msg("Failed to dump logcat")
		writeJSON(w, http.StatusOK, adbLogcatResponse{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, adbLogcatResponse{Success: true, Logs: lines})
}
