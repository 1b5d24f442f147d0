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

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

var (
	agentAdTermsRegex  = regexp.MustCompile(`(?i)ad_impression|ad_platform`)
	agentJSONBlobRegex = regexp.MustCompile(`\{.*?\}`)
)

// deviceReader owns the logcat subprocess for one device.
type deviceReader struct {
	serial string
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *deviceReader) stop() {
	r.cancel()
	<-r.done
}

// startReader registers and launches a reader goroutine for a device.
func (a *Agent) startReader(ctx context.Context, serial, name string) {
	readerCtx, cancel := context.WithCancel(ctx)

	reader := &deviceReader{
		serial: serial,
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	a.mu.Lock()
	a.readers[serial] = reader
	a.mu.Unlock()

	a.logger.Info().
		Str("serial", serial).
		Str("name", name).
		Msg("Starting logcat reader")

	go a.runReader(readerCtx, reader)
}

func (a *Agent) stopReader(serial string) {
	a.mu.Lock()
	reader, ok := a.readers[serial]
	if ok {
		delete(a.readers, serial)
	}
	a.mu.Unlock()

	if !ok {
		return
	}

	a.logger.Info().Str("serial", serial).Msg("Stopping logcat reader")
	reader.stop()
}

// runReader keeps one logcat stream alive. If the subprocess exits
// unexpectedly it is restarted after a short fixed delay, as long as the
// device is still present in the tracked set.
func (a *Agent) runReader(ctx context.Context, reader *deviceReader) {
	defer close(reader.done)

	for {
		cmd, stdout, err := a.adb.OpenLogcat(ctx, reader.serial)
		if err != nil {
			a.logger.Warn().
				Err(err).
				Str("serial", reader.serial).
				Msg("Failed to start logcat")
		} else {
			scanner := bufio.NewScanner(stdout)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

			for scanner.Scan() {
				a.handleLogLine(reader.serial, reader.name, scanner.Text())
			}

			_ = cmd.Wait()
		}

		if ctx.Err() != nil {
			return
		}

		a.logger.Warn().
			Str("serial", reader.serial).
			Dur("restart_delay", a.cfg.RestartDelay).
			Msg("Logcat stream ended, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.RestartDelay):
		}

		if !a.tracked(reader.serial) {
			return
		}
	}
}

// handleLogLine turns one non-empty logcat line into an event payload
// queued for delivery.
func (a *Agent) handleLogLine(serial, name, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	a.client.QueueEvent(buildEventPayload(serial, name, line, time.Now()))
}

// buildEventPayload mirrors what the relay normalizer expects: raw text
// plus whatever structure the agent could cheaply extract locally.
func buildEventPayload(serial, name, line string, now time.Time) *models.AgentEventPayload {
	containsAd := agentAdTermsRegex.MatchString(line)

	return &models.AgentEventPayload{
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
		Device:       serial,
		DeviceNameLC: name,
		RawLogLC:     line,
		Metadata:     extractJSON(line),
		ContainsAdLC: &containsAd,
	}
}

func extractJSON(line string) map[string]interface{} {
	match := agentJSONBlobRegex.FindString(line)
	if match == "" {
		return nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil
	}

	return parsed
}
