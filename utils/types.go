package utils

// WebSocketEvent is the envelope broadcast to local UI clients.
type WebSocketEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ConnectionStatusPayload reports pair-state transitions.
type ConnectionStatusPayload struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// TelemetryPayload reports merged glasses telemetry.
type TelemetryPayload struct {
	BatteryLevel int  `json:"batteryLevel"`
	BatteryLeft  int  `json:"batteryLeft"`
	BatteryRight int  `json:"batteryRight"`
	CaseOpen     bool `json:"caseOpen"`
	CaseCharging bool `json:"caseCharging"`
}

// DeviceOrderPayload reports a discrete glasses-originated event.
type DeviceOrderPayload struct {
	Side  string `json:"side"`
	Order string `json:"order"`
}

// CloudStatusPayload reports the cloud session state.
type CloudStatusPayload struct {
	Status string `json:"status"`
}

// DisplayRequest is the POST /display body: a display intent for one
// surface.
type DisplayRequest struct {
	View   string `json:"view"` // "dashboard" or "normal"
	Layout struct {
		LayoutType string `json:"layoutType"`
		Text       string `json:"text,omitempty"`
		TopText    string `json:"topText,omitempty"`
		BottomText string `json:"bottomText,omitempty"`
	} `json:"layout"`
}
