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

package relay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

var (
	adTermsRegex  = regexp.MustCompile(`(?i)ad_impression|ad_platform|ad_source|ad_format`)
	adSourceRegex = regexp.MustCompile(`(?i)(ad_(?:source|platform))['"=:\s]+([\w./-]+)`)
	adFormatRegex = regexp.MustCompile(`(?i)(ad_format|format)['"=:\s]+([\w./-]+)`)
	jsonBlobRegex = regexp.MustCompile(`\{.*?\}`)
)

var adSourceAliases = []string{"ad_source", "ad_platform", "network", "source"}

var adFormatAliases = []string{"ad_format", "format", "placement", "ad_type"}

// timestampLayouts are the formats accepted for agent-supplied timestamps.
// Anything else falls back to relay receive time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Normalizer converts heterogeneous agent-supplied payloads into canonical
// LogEvents. It carries only a monotonically increasing counter used to
// synthesize unique event IDs; normalization itself is side-effect free.
type Normalizer struct {
	seq atomic.Uint64
}

// NewNormalizer creates a Normalizer with its counter at zero.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize turns one agent payload into a LogEvent. It returns nil when
// the payload has no raw log text, the only required field; partial or
// garbled lines are expected from live log streams and dropped as noise.
// lookupName resolves a serial to a known device name and may be nil.
func (n *Normalizer) Normalize(
	agentID, agentName string,
	lookupName func(serial string) string,
	payload *models.AgentEventPayload,
	now time.Time,
) *models.LogEvent {
	if payload == nil {
		return nil
	}

	rawLog := payload.RawLog()
	if rawLog == "" {
		return nil
	}

	timestamp := payload.Timestamp
	if !parseableTimestamp(timestamp) {
		timestamp = now.UTC().Format(time.RFC3339Nano)
	}

	serial := payload.DeviceSerial()
	if serial == "" {
		serial = "unknown"
	}

	deviceName := payload.DeviceName()
	if deviceName == "" && lookupName != nil {
		deviceName = lookupName(serial)
	}

	if deviceName == "" {
		deviceName = serial
	}

	metadata := payload.Metadata
	if metadata == nil {
		metadata = extractJSONPayload(rawLog)
	}

	if len(metadata) == 0 {
		metadata = nil
	}

	isAd, explicit := payload.ContainsAd()
	if !explicit {
		isAd = metadataHasAdKey(metadata) || adTermsRegex.MatchString(rawLog)
	}

	adSource := payload.AdSourceLC
	if adSource == "" {
		adSource = payload.AdSourceCC
	}

	if adSource == "" {
		adSource = inferFromMetadata(metadata, adSourceAliases)
	}

	if adSource == "" {
		adSource = extractFromLine(rawLog, adSourceRegex)
	}

	adFormat := payload.AdFormatLC
	if adFormat == "" {
		adFormat = payload.AdFormatCC
	}

	if adFormat == "" {
		adFormat = inferFromMetadata(metadata, adFormatAliases)
	}

	if adFormat == "" {
		adFormat = extractFromLine(rawLog, adFormatRegex)
	}

	id := payload.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", agentID, serial, n.seq.Add(1))
	}

	return &models.LogEvent{
		ID:         id,
		Timestamp:  timestamp,
		Device:     serial,
		DeviceName: deviceName,
		RawLog:     rawLog,
		Metadata:   metadata,
		AdSource:   adSource,
		AdFormat:   adFormat,
		AgentID:    agentID,
		AgentName:  agentName,
		IsAd:       isAd,
	}
}

func parseableTimestamp(value string) bool {
	if value == "" {
		return false
	}

	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}

	return false
}

// extractJSONPayload attempts to parse the first {...} substring of a log
// line. Parse failure is not an error; the line simply has no usable
// structured payload.
func extractJSONPayload(line string) map[string]interface{} {
	match := jsonBlobRegex.FindString(line)
	if match == "" {
		return nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil
	}

	return parsed
}

func metadataHasAdKey(metadata map[string]interface{}) bool {
	for key := range metadata {
		if adTermsRegex.MatchString(key) {
			return true
		}
	}

	return false
}

func inferFromMetadata(metadata map[string]interface{}, aliases []string) string {
	if len(metadata) == 0 {
		return ""
	}

	lowered := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		lowered[strings.ToLower(key)] = value
	}

	for _, alias := range aliases {
		if value, ok := lowered[alias]; ok && value != nil {
			return fmt.Sprintf("%v", value)
		}
	}

	return ""
}

func extractFromLine(line string, re *regexp.Regexp) string {
	match := re.FindStringSubmatch(line)
	if len(match) > 2 {
		return match[2]
	}

	return ""
}
