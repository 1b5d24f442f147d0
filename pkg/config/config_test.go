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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfigFile(t, `{
		"listen_addr": ":3000",
		"buffer_size": 1000,
		"cors": {"allowed_origins": ["http://localhost:3000"]}
	}`)

	var cfg models.RelayConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)

	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, 1000, cfg.BufferSize)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg models.RelayConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), "/nonexistent/relay.json", &cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestLoadAndValidateMalformedJSON(t *testing.T) {
	path := writeConfigFile(t, `{"listen_addr": `)

	var cfg models.RelayConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal JSON")
}

func TestLoadAndValidateInvalidConfig(t *testing.T) {
	path := writeConfigFile(t, `{"buffer_size": 100}`)

	var cfg models.RelayConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)

	assert.Error(t, err)
}

func TestValidateConfigSkipsNonValidators(t *testing.T) {
	type plain struct{ Name string }

	assert.NoError(t, ValidateConfig(&plain{Name: "x"}))
}
