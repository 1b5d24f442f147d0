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
	"errors"
	"os"
	"time"
)

var errServerURLRequired = errors.New("server_url is required")

const (
	defaultServerURL         = "ws://localhost:3000/api/android-logcat/ws"
	defaultPollInterval      = 5 * time.Second
	defaultReconnectMaxDelay = 30 * time.Second
	defaultRestartDelay      = time.Second
	defaultQueueLimit        = 10000
)

// Config controls the local logcat agent.
type Config struct {
	ServerURL         string        `json:"server_url"`
	AgentID           string        `json:"agent_id"`
	AgentName         string        `json:"agent_name"`
	ADBPath           string        `json:"adb_path"`
	PollInterval      time.Duration `json:"-"`
	ReconnectMaxDelay time.Duration `json:"-"`
	RestartDelay      time.Duration `json:"-"`
	QueueLimit        int           `json:"queue_limit"`
}

// DefaultConfig builds an agent config from the environment, matching
// the LOGCAT_* variables the original agent script understood.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "logcat-agent"
	}

	cfg := &Config{
		ServerURL:         envOrDefault("LOGCAT_SERVER_URL", defaultServerURL),
		AgentID:           envOrDefault("LOGCAT_AGENT_ID", hostname),
		AgentName:         os.Getenv("LOGCAT_AGENT_NAME"),
		ADBPath:           os.Getenv("LOGCAT_ADB_PATH"),
		PollInterval:      envDurationOrDefault("LOGCAT_DEVICE_POLL_INTERVAL", defaultPollInterval),
		ReconnectMaxDelay: envDurationOrDefault("LOGCAT_RECONNECT_MAX_DELAY", defaultReconnectMaxDelay),
		RestartDelay:      defaultRestartDelay,
		QueueLimit:        defaultQueueLimit,
	}

	if cfg.AgentName == "" {
		cfg.AgentName = cfg.AgentID
	}

	return cfg
}

// Validate checks the config invariants and fills derived defaults.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errServerURLRequired
	}

	if c.AgentName == "" {
		c.AgentName = c.AgentID
	}

	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}

	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = defaultReconnectMaxDelay
	}

	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}

	if c.QueueLimit <= 0 {
		c.QueueLimit = defaultQueueLimit
	}

	return nil
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func envDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
