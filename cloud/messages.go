package cloud

import "encoding/json"

// Control message types carried as the "type" discriminator on the cloud
// socket. Binary frames on the same socket carry raw encoded audio.
const (
	TypeConnectionInit  = "connection_init"
	TypeConnectionAck   = "connection_ack"
	TypeConnectionError = "connection_error"
	TypeAuthError       = "auth_error"
	TypeAppStateChange  = "app_state_change"
	TypeMicStateChange  = "microphone_state_change"
	TypeDisplayEvent    = "display_event"
	TypeRequestSingle   = "request_single"
	TypeVAD             = "VAD"
	TypeBatteryUpdate   = "glasses_battery_update"
	TypeCalendarEvent   = "calendar_event"
	TypeLocationUpdate  = "location_update"
	TypeStartApp        = "start_app"
	TypeStopApp         = "stop_app"
	TypeButtonPress     = "button_press"
	TypeConfig          = "config"
)

// Envelope is the outer JSON frame for every control message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionInitPayload authenticates the session after the socket opens.
type ConnectionInitPayload struct {
	AuthToken string `json:"authToken"`
	SessionID string `json:"sessionId"`
}

// DisplayEventPayload is an inbound display intent from the cloud.
type DisplayEventPayload struct {
	View   string        `json:"view"` // "dashboard" or "normal"
	Layout DisplayLayout `json:"layout"`
}

// DisplayLayout mirrors the intent shapes the cloud emits.
type DisplayLayout struct {
	LayoutType string `json:"layoutType"`
	Text       string `json:"text,omitempty"`
	TopText    string `json:"topText,omitempty"`
	BottomText string `json:"bottomText,omitempty"`
}

// MicStatePayload toggles the glasses microphone from the cloud side.
type MicStatePayload struct {
	Enabled bool `json:"enabled"`
}

// BatteryUpdatePayload reports merged glasses telemetry upstream.
type BatteryUpdatePayload struct {
	Level        int  `json:"level"`
	Left         int  `json:"left"`
	Right        int  `json:"right"`
	CaseOpen     bool `json:"caseOpen"`
	CaseCharging bool `json:"caseCharging"`
}

// AuthErrorPayload explains why credentials were rejected.
type AuthErrorPayload struct {
	Message string `json:"message"`
}
