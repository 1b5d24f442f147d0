package models

import (
	"time"
)

// AgentDevice is a device as reported by an agent in identify and
// device-list messages.
type AgentDevice struct {
	Serial string `json:"serial"`
	Name   string `json:"name,omitempty"`
}

// DeviceSummary identifies one physical device as seen by one agent.
// Serials are unique per agent only, so the registry keys devices by
// (agent_id, serial).
type DeviceSummary struct {
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	LastSeen  time.Time `json:"lastSeen"`
}
