package models

import (
	"errors"

	"github.com/tqdaoinfo108/dev-tools/pkg/logger"
)

var errListenAddrRequired = errors.New("listen_addr is required")

// CORSConfig controls which origins may open watcher connections.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// RelayConfig is the relay server configuration file shape.
type RelayConfig struct {
	ListenAddr string         `json:"listen_addr"`
	BufferSize int            `json:"buffer_size"`
	ADBPath    string         `json:"adb_path"`
	CORS       CORSConfig     `json:"cors"`
	Logging    *logger.Config `json:"logging"`
}

// Validate checks the required fields.
func (c *RelayConfig) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	return nil
}
