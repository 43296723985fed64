package glasses

// BlueZ D-Bus names
const (
	BLUEZ_BUS_NAME          = "org.bluez"
	BLUEZ_ADAPTER_INTERFACE = "org.bluez.Adapter1"
	BLUEZ_DEVICE_INTERFACE  = "org.bluez.Device1"
	BLUEZ_SERVICE_INTERFACE = "org.bluez.GattService1"
	BLUEZ_CHAR_INTERFACE    = "org.bluez.GattCharacteristic1"
	BLUEZ_OBJECT_PATH       = "/org/bluez"
)

// UART-like GATT service exposed by each arm
const (
	UartServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	UartTxCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // write
	UartRxCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // notify
)

// Command opcodes understood by the arm firmware
const (
	CmdBrightness        = 0x01
	CmdSilentMode        = 0x03
	CmdWhitelist         = 0x04
	CmdHeadUpAngle       = 0x0B
	CmdMic               = 0x0E
	CmdExit              = 0x18
	CmdDashboardPosition = 0x26
	CmdHeartbeat         = 0x2C
	CmdInit              = 0x4D
	CmdText              = 0x4E
	CmdMicData           = 0xF1
	CmdDeviceOrder       = 0xF5
)

// Acknowledgment status bytes
const (
	AckSuccess = 0xC9
	AckFailure = 0xCA

	// The dashboard-position firmware path acks with its own byte rather
	// than the generic status. Kept as the default in Config.AckBytes so
	// it can be overridden once verified against other firmware revisions.
	AckDashboard = 0x06
)

// Device-order subcodes carried in 0xF5 notifications
const (
	OrderDoubleTap    = 0x00
	OrderHeadUp       = 0x02
	OrderHeadDown     = 0x03
	OrderCaseOpen     = 0x08
	OrderCaseClosed   = 0x0B
	OrderCaseCharging = 0x0E
	OrderAITrigger    = 0x17
)

// Silent-mode payload values
const (
	silentOn  = 0x0C
	silentOff = 0x0A
)

// Wire framing limits. A text chunk carries a 9-byte header, a whitelist
// chunk a 3-byte header; both leave the same payload budget after the
// negotiated MTU is accounted for.
const (
	TextHeaderSize       = 9
	WhitelistHeaderSize  = 3
	MaxChunkPayload      = 176
	TextStatusDisplaying = 0x71
)

// Display geometry of one lens
const (
	DisplayWidthPx    = 576
	LinesPerScreen    = 5
	DefaultGlyphWidth = 6
	GlyphHeightPx     = 26
)
