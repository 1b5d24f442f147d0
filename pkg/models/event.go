package models

// LogEvent is one normalized logcat line. Events are immutable once
// created; the relay evicts them oldest-first from its replay buffer but
// never updates them.
type LogEvent struct {
	ID         string                 `json:"id"`
	Timestamp  string                 `json:"timestamp"`
	Device     string                 `json:"device"`
	DeviceName string                 `json:"device_name"`
	RawLog     string                 `json:"raw_log"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	AdSource   string                 `json:"ad_source,omitempty"`
	AdFormat   string                 `json:"ad_format,omitempty"`
	AgentID    string                 `json:"agentId"`
	AgentName  string                 `json:"agentName"`
	IsAd       bool                   `json:"isAd"`
}

// AgentEventPayload is the loose event shape agents send. Several fields
// accept two key spellings; the normalizer resolves the aliases once at
// the boundary so internal code only ever sees LogEvent.
type AgentEventPayload struct {
	ID            string                 `json:"id,omitempty"`
	Timestamp     string                 `json:"timestamp,omitempty"`
	Device        string                 `json:"device,omitempty"`
	Serial        string                 `json:"serial,omitempty"`
	DeviceNameLC  string                 `json:"device_name,omitempty"`
	DeviceNameCC  string                 `json:"deviceName,omitempty"`
	AdSourceLC    string                 `json:"ad_source,omitempty"`
	AdSourceCC    string                 `json:"adSource,omitempty"`
	AdFormatLC    string                 `json:"ad_format,omitempty"`
	AdFormatCC    string                 `json:"adFormat,omitempty"`
	RawLogLC      string                 `json:"raw_log,omitempty"`
	RawLogCC      string                 `json:"rawLog,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ContainsAdLC  *bool                  `json:"contains_ad,omitempty"`
	ContainsAdCC  *bool                  `json:"containsAd,omitempty"`
}

// RawLog returns the log text regardless of which key the agent used.
func (p *AgentEventPayload) RawLog() string {
	if p.RawLogLC != "" {
		return p.RawLogLC
	}

	return p.RawLogCC
}

// DeviceSerial returns the device identifier, accepting either alias.
func (p *AgentEventPayload) DeviceSerial() string {
	if p.Device != "" {
		return p.Device
	}

	return p.Serial
}

// DeviceName returns the human-readable device label, if supplied.
func (p *AgentEventPayload) DeviceName() string {
	if p.DeviceNameLC != "" {
		return p.DeviceNameLC
	}

	return p.DeviceNameCC
}

// ContainsAd reports the agent's explicit ad flag and whether it was set
// at all.
func (p *AgentEventPayload) ContainsAd() (value, ok bool) {
	if p.ContainsAdLC != nil {
		return *p.ContainsAdLC, true
	}

	if p.ContainsAdCC != nil {
		return *p.ContainsAdCC, true
	}

	return false, false
}
