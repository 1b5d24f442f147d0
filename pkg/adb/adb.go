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

// Package adb wraps the adb command line tool for device listing and
// logcat access.
package adb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
)

// logcatLineRegex matches `adb logcat -v time` output:
// 10-08 10:58:45.493 I/TestApp (32620): Test log message
var logcatLineRegex = regexp.MustCompile(`^(\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3})\s+([VDIWEF])/([^(]+)\(\s*(\d+)\):\s*(.*)$`)

// LogLine is one parsed line of a logcat dump.
type LogLine struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Tag       string `json:"tag"`
	Message   string `json:"message"`
	PID       string `json:"pid"`
}

// Client executes adb commands. The zero binary path defaults to "adb"
// resolved from PATH.
type Client struct {
	binary string
	logger logger.Logger
}

// NewClient creates an adb client.
func NewClient(binary string, log logger.Logger) *Client {
	if binary == "" {
		binary = "adb"
	}

	return &Client{binary: binary, logger: log}
}

// ListDevices runs `adb devices` and returns the serials in the
// "device" state, skipping the banner and daemon startup noise.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "devices")

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}

	return ParseDeviceList(string(output)), nil
}

// ParseDeviceList extracts connected serials from `adb devices` output.
func ParseDeviceList(output string) []string {
	var serials []string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lowered := strings.ToLower(line)
		if strings.HasPrefix(lowered, "list of devices") || strings.Contains(lowered, "daemon") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) == 2 && parts[1] == "device" {
			serials = append(serials, parts[0])
		}
	}

	return serials
}

// ResolveName builds a human-readable device label from the product
// manufacturer and model props, falling back to the serial when the
// props are unavailable.
func (c *Client) ResolveName(ctx context.Context, serial string) string {
	manufacturer := c.getProp(ctx, serial, "ro.product.manufacturer")
	model := c.getProp(ctx, serial, "ro.product.model")

	switch {
	case manufacturer != "" && model != "":
		return manufacturer + " " + model
	case model != "":
		return model
	case manufacturer != "":
		return manufacturer + " " + serial
	default:
		return serial
	}
}

func (c *Client) getProp(ctx context.Context, serial, prop string) string {
	cmd := exec.CommandContext(ctx, c.binary, "-s", serial, "shell", "getprop", prop)

	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(output))
}

// OpenLogcat starts a persistent `adb logcat -v time` stream for one
// device. The caller owns the returned command and must read the stream
// to completion or kill the process.
func (c *Client) OpenLogcat(ctx context.Context, serial string) (*exec.Cmd, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.binary, "-s", serial, "logcat", "-v", "time")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("logcat stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start logcat for %s: %w", serial, err)
	}

	return cmd, stdout, nil
}

// Dump runs a one-shot `adb logcat -d -v time` and parses the output.
// Lines that do not match the expected format are kept with the raw text
// as the message rather than discarded.
func (c *Client) Dump(ctx context.Context, serial string) ([]LogLine, error) {
	args := []string{}
	if serial != "" {
		args = append(args, "-s", serial)
	}

	args = append(args, "logcat", "-d", "-v", "time")

	cmd := exec.CommandContext(ctx, c.binary, args...)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("adb logcat dump: %w", err)
	}

	var lines []LogLine

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lines = append(lines, ParseLogLine(line, time.Now()))
	}

	return lines, nil
}

// ParseLogLine parses one `-v time` formatted logcat line. The day and
// month come from the device; the year is taken from now since logcat
// does not include it.
func ParseLogLine(line string, now time.Time) LogLine {
	match := logcatLineRegex.FindStringSubmatch(line)
	if match == nil {
		return LogLine{
			Timestamp: now.UTC().Format(time.RFC3339),
			Level:     "I",
			Tag:       "Unknown",
			Message:   line,
		}
	}

	return LogLine{
		Timestamp: fmt.Sprintf("%d-%s", now.Year(), match[1]),
		Level:     match[2],
		Tag:       strings.TrimSpace(match[3]),
		Message:   strings.TrimSpace(match[5]),
		PID:       match[4],
	}
}
