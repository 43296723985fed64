package glasses

import "time"

// Side identifies one physical arm of the pair.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Targets selects which arms a command is written to.
type Targets byte

const (
	TargetLeft  Targets = 1 << 0
	TargetRight Targets = 1 << 1
	TargetBoth          = TargetLeft | TargetRight
)

// Has reports whether the given side is selected.
func (t Targets) Has(s Side) bool {
	if s == Left {
		return t&TargetLeft != 0
	}
	return t&TargetRight != 0
}

// Command is one queued unit of work for the link synchronizer. Packets are
// pre-framed writes produced by the codec and are sent in order. A Command
// is immutable once enqueued.
type Command struct {
	Opcode      byte
	Packets     [][]byte
	Targets     Targets
	AckRequired bool

	// MaxAttempts and InterCommandDelay fall back to Config defaults
	// when zero.
	MaxAttempts       int
	InterCommandDelay time.Duration

	// Result, when non-nil, receives the final outcome after all attempts.
	// It must be buffered; the worker never blocks on it.
	Result chan error
}

// LinkState is the per-arm connection lifecycle state.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkDiscovered
	LinkConnecting
	LinkServicesDiscovering
	LinkInitializing
	LinkReady
	LinkReconnecting
)

func (s LinkState) String() string {
	switch s {
	case LinkDiscovered:
		return "discovered"
	case LinkConnecting:
		return "connecting"
	case LinkServicesDiscovering:
		return "services_discovering"
	case LinkInitializing:
		return "initializing"
	case LinkReady:
		return "ready"
	case LinkReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// PairState is the combined readiness of both arms. High-level commands and
// the heartbeat are gated on PairBothReady.
type PairState int

const (
	PairDisconnected PairState = iota
	PairConnecting
	PairBothReady
)

func (p PairState) String() string {
	switch p {
	case PairConnecting:
		return "connecting"
	case PairBothReady:
		return "both_ready"
	default:
		return "disconnected"
	}
}

// Surface identifies which display surface a view targets.
type Surface int

const (
	SurfaceNormal Surface = iota
	SurfaceDashboard
)

func (s Surface) String() string {
	if s == SurfaceDashboard {
		return "dashboard"
	}
	return "normal"
}

// ViewState holds the last content pushed to one surface. Exactly two exist
// for the process lifetime (normal and dashboard); they are overwritten in
// place, never recreated.
type ViewState struct {
	LayoutType string
	Text       string
	TopText    string
	BottomText string
}

// BatteryReading is one decoded per-arm battery/voltage sample.
type BatteryReading struct {
	Percent  int
	Flags    byte
	VoltageM int // millivolts
}

// Telemetry is the merged device telemetry derived from heartbeat and case
// notifications. BatteryLevel is min(left, right) of the arms seen so far.
type Telemetry struct {
	BatteryLeft  int
	BatteryRight int
	BatteryCase  int
	CaseOpen     bool
	CaseCharging bool
	BatteryLevel int
}

// DeviceOrder is a discrete event originated by the glasses (head movement,
// taps, case transitions, AI trigger).
type DeviceOrder struct {
	Side  Side
	Order byte
}

// Name returns a stable string for the order subcode.
func (d DeviceOrder) Name() string {
	switch d.Order {
	case OrderDoubleTap:
		return "double_tap"
	case OrderHeadUp:
		return "head_up"
	case OrderHeadDown:
		return "head_down"
	case OrderCaseOpen:
		return "case_open"
	case OrderCaseClosed:
		return "case_closed"
	case OrderCaseCharging:
		return "case_charging"
	case OrderAITrigger:
		return "ai_trigger"
	default:
		return "unknown"
	}
}

// Config carries every tunable the duplicated legacy implementations
// disagreed on, with one consistent default set.
type Config struct {
	Adapter           string        // BlueZ adapter path, e.g. /org/bluez/hci0
	ScanTimeout       time.Duration // both arms must be found within this
	ConnectTimeout    time.Duration
	AckTimeout        time.Duration // per-arm ack wait
	MaxAttempts       int           // full-command retries
	InterChunkDelay   time.Duration // between chunks of one command
	InterCommandDelay time.Duration // settle time between commands
	ReconnectDelay    time.Duration // between supervised reconnect cycles
	HeartbeatMin      time.Duration // heartbeat interval jitter bounds
	HeartbeatMax      time.Duration
	HeartbeatMissMax  int // consecutive unacked heartbeats before reconnect

	// AckBytes maps each outbound opcode to the status byte its ack
	// carries. Firmware revisions disagree here, so it is configuration
	// rather than a hardcoded table.
	AckBytes map[byte]byte
}

// DefaultConfig returns the settings verified against current firmware.
func DefaultConfig() *Config {
	return &Config{
		Adapter:           "/org/bluez/hci0",
		ScanTimeout:       30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		AckTimeout:        250 * time.Millisecond,
		MaxAttempts:       3,
		InterChunkDelay:   16 * time.Millisecond,
		InterCommandDelay: 50 * time.Millisecond,
		ReconnectDelay:    2 * time.Second,
		HeartbeatMin:      12 * time.Second,
		HeartbeatMax:      18 * time.Second,
		HeartbeatMissMax:  5,
		AckBytes: map[byte]byte{
			CmdInit:              AckSuccess,
			CmdBrightness:        AckSuccess,
			CmdSilentMode:        AckSuccess,
			CmdWhitelist:         AckSuccess,
			CmdHeadUpAngle:       AckSuccess,
			CmdMic:               AckSuccess,
			CmdExit:              AckSuccess,
			CmdDashboardPosition: AckDashboard,
			CmdHeartbeat:         AckSuccess,
			CmdText:              AckSuccess,
		},
	}
}

// ackByte resolves the expected ack status for an opcode, defaulting to the
// generic success byte for opcodes not present in the table.
func (c *Config) ackByte(opcode byte) byte {
	if b, ok := c.AckBytes[opcode]; ok {
		return b
	}
	return AckSuccess
}
