package models

import (
	"encoding/json"
)

// Message types exchanged over the relay WebSocket. The first identify
// message promotes a connection to the agent role; everything else a
// non-agent connection sends is ignored.
const (
	// Agent -> relay
	MessageTypeIdentify = "identify"
	MessageTypeDevices  = "device-list"
	MessageTypeLogEvent = "log-event"

	// Relay -> agent
	MessageTypeIdentifyAck = "identify-ack"

	// Relay -> watcher
	MessageTypeSnapshot   = "snapshot"
	MessageTypeDeviceList = "devices"
	MessageTypeNewEvent   = "new-event"

	// Relay -> any peer
	MessageTypeRelayError = "relay-error"
)

// AgentMessage is the inbound wire frame from an agent connection.
// Events is kept raw because the log-event payload may be a single event
// object or an array of them; the router accepts both shapes.
type AgentMessage struct {
	Type      string          `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	AgentName string          `json:"agentName,omitempty"`
	Devices   []AgentDevice   `json:"devices,omitempty"`
	Events    json.RawMessage `json:"events,omitempty"`
}

// ServerMessage is the outbound wire frame pushed by the relay to agents
// and watchers.
type ServerMessage struct {
	Type      string          `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	AgentName string          `json:"agentName,omitempty"`
	Devices   []DeviceSummary `json:"devices,omitempty"`
	Events    []LogEvent      `json:"events,omitempty"`
	Event     *LogEvent       `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
}
