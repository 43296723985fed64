package glasses

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Codec frames logical messages into BLE-write-sized chunks. It is a pure
// transform except for the per-stream-class sequence counters: the receiving
// firmware dedups and orders on a single evolving counter per class, so the
// counter advances once per complete logical message and is shared across
// every call for that class. Callers must not interleave chunk streams of
// the same class.
type Codec struct {
	mu       sync.Mutex
	textSeq  byte
	audioSeq byte
}

// NewCodec returns a codec with all sequence counters at zero.
func NewCodec() *Codec {
	return &Codec{}
}

// nextTextSeq advances the text-class counter, wrapping at 256.
func (c *Codec) nextTextSeq() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.textSeq
	c.textSeq++
	return seq
}

// EncodeTextChunks frames text for display as one logical message split
// into chunks carrying the fixed 9-byte header:
//
//	[opcode, seq, totalChunks, chunkIndex, statusFlags, posHi, posLo, page, maxPages]
//
// The whole text travels in a single page; page/maxPages stay 1/1 until a
// page-navigation command exists to request pages individually.
func (c *Codec) EncodeTextChunks(text string) [][]byte {
	return c.frameText([]byte(text), 1, 1)
}

// EncodeDoubleColumnChunks frames a two-column dashboard screen. Both
// columns are wrapped to their half of the display, aligned on the column
// boundary and sent as a single one-page text message.
func (c *Codec) EncodeDoubleColumnChunks(top, bottom string) [][]byte {
	boundary := DisplayWidthPx / 2
	rows := AlignDualColumn(
		WrapLines(top, boundary),
		WrapLines(bottom, DisplayWidthPx-boundary),
		boundary,
	)
	return c.frameText([]byte(strings.Join(rows, "\n")), 1, 1)
}

func (c *Codec) frameText(payload []byte, page, maxPages int) [][]byte {
	seq := c.nextTextSeq()
	total := (len(payload) + MaxChunkPayload - 1) / MaxChunkPayload
	if total < 1 {
		total = 1
	}

	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > len(payload) {
			end = len(payload)
		}

		chunk := make([]byte, TextHeaderSize+end-start)
		chunk[0] = CmdText
		chunk[1] = seq
		chunk[2] = byte(total)
		chunk[3] = byte(i)
		chunk[4] = TextStatusDisplaying
		binary.BigEndian.PutUint16(chunk[5:7], uint16(start))
		chunk[7] = byte(page)
		chunk[8] = byte(maxPages)
		copy(chunk[TextHeaderSize:], payload[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// EncodeWhitelistChunks frames the app whitelist JSON with its compact
// 3-byte header: [opcode, totalChunks, chunkIndex].
func (c *Codec) EncodeWhitelistChunks(whitelistJSON []byte) [][]byte {
	total := (len(whitelistJSON) + MaxChunkPayload - 1) / MaxChunkPayload
	if total < 1 {
		total = 1
	}

	chunks := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxChunkPayload
		end := start + MaxChunkPayload
		if end > len(whitelistJSON) {
			end = len(whitelistJSON)
		}

		chunk := make([]byte, WhitelistHeaderSize+end-start)
		chunk[0] = CmdWhitelist
		chunk[1] = byte(total)
		chunk[2] = byte(i)
		copy(chunk[WhitelistHeaderSize:], whitelistJSON[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// EncodeMicData frames one encoded audio frame for the LC3-over-BLE path.
// Audio frames carry their own wrapping sequence counter.
func (c *Codec) EncodeMicData(frame []byte) []byte {
	c.mu.Lock()
	seq := c.audioSeq
	c.audioSeq++
	c.mu.Unlock()

	out := make([]byte, 2+len(frame))
	out[0] = CmdMicData
	out[1] = seq
	copy(out[2:], frame)
	return out
}

// ReassembleText is the header-aware inverse of frameText. Chunks may
// arrive in any order; the reassembled payload must cover every index of
// one sequence exactly once.
func ReassembleText(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks")
	}

	for i, chunk := range chunks {
		if len(chunk) < TextHeaderSize {
			return nil, fmt.Errorf("chunk %d too short: %d bytes", i, len(chunk))
		}
	}

	sorted := make([][]byte, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][3] < sorted[j][3] })

	seq := sorted[0][1]
	total := int(sorted[0][2])
	if total != len(sorted) {
		return nil, fmt.Errorf("expected %d chunks, have %d", total, len(sorted))
	}

	var buf bytes.Buffer
	for i, chunk := range sorted {
		if chunk[0] != CmdText {
			return nil, fmt.Errorf("chunk %d has opcode 0x%02X, want 0x%02X", i, chunk[0], CmdText)
		}
		if chunk[1] != seq {
			return nil, fmt.Errorf("chunk %d belongs to sequence %d, want %d", i, chunk[1], seq)
		}
		if int(chunk[3]) != i {
			return nil, fmt.Errorf("missing chunk index %d", i)
		}
		if int(binary.BigEndian.Uint16(chunk[5:7])) != buf.Len() {
			return nil, fmt.Errorf("chunk %d position %d does not continue payload at %d",
				i, binary.BigEndian.Uint16(chunk[5:7]), buf.Len())
		}
		buf.Write(chunk[TextHeaderSize:])
	}
	return buf.Bytes(), nil
}

// Single-write command builders. Each returns the complete frame for one
// BLE write.

// InitCommand is the post-discovery handshake probe.
func InitCommand() []byte {
	return []byte{CmdInit, 0x01}
}

// HeartbeatCommand builds the periodic keepalive. The length byte and the
// doubled sequence are what the firmware validates.
func HeartbeatCommand(seq byte) []byte {
	return []byte{CmdHeartbeat, 0x06, seq, 0x04, seq}
}

// BrightnessCommand sets display brightness 0..63 with an auto-adjust flag.
func BrightnessCommand(level byte, auto bool) []byte {
	autoByte := byte(0x00)
	if auto {
		autoByte = 0x01
	}
	if level > 63 {
		level = 63
	}
	return []byte{CmdBrightness, level, autoByte}
}

// SilentModeCommand toggles the display-off silent mode.
func SilentModeCommand(on bool) []byte {
	if on {
		return []byte{CmdSilentMode, silentOn}
	}
	return []byte{CmdSilentMode, silentOff}
}

// MicCommand enables or disables the onboard microphone.
func MicCommand(on bool) []byte {
	if on {
		return []byte{CmdMic, 0x01}
	}
	return []byte{CmdMic, 0x00}
}

// DashboardPositionCommand sets the dashboard's vertical position and depth.
func DashboardPositionCommand(height, depth byte) []byte {
	return []byte{CmdDashboardPosition, height, depth}
}

// HeadUpAngleCommand sets the tilt angle that counts as "head up".
func HeadUpAngleCommand(angle byte) []byte {
	return []byte{CmdHeadUpAngle, angle, 0x01}
}

// ExitCommand dismisses whatever feature currently owns the display.
func ExitCommand() []byte {
	return []byte{CmdExit}
}

// NotificationKind classifies an inbound RX notification.
type NotificationKind int

const (
	NotifyAck NotificationKind = iota
	NotifyHeartbeat
	NotifyDeviceOrder
	NotifyMicData
)

// Notification is one decoded RX notification from an arm.
type Notification struct {
	Kind    NotificationKind
	Opcode  byte
	Status  byte
	Battery BatteryReading
	Order   byte
	Audio   []byte
	Seq     byte
}

// DecodeNotification parses one raw RX value. Malformed notifications
// return an error and are discarded by the caller; they never tear down
// the link.
func DecodeNotification(data []byte) (*Notification, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("notification too short: %d bytes", len(data))
	}

	switch data[0] {
	case CmdHeartbeat:
		// [opcode, subcode, batteryPct, flags, voltageLo, voltageHi]
		if len(data) < 6 {
			return nil, fmt.Errorf("heartbeat payload too short: %d bytes", len(data))
		}
		return &Notification{
			Kind:   NotifyHeartbeat,
			Opcode: CmdHeartbeat,
			Battery: BatteryReading{
				Percent:  int(data[2]),
				Flags:    data[3],
				VoltageM: int(binary.LittleEndian.Uint16(data[4:6])),
			},
		}, nil

	case CmdDeviceOrder:
		return &Notification{
			Kind:   NotifyDeviceOrder,
			Opcode: CmdDeviceOrder,
			Order:  data[1],
		}, nil

	case CmdMicData:
		return &Notification{
			Kind:   NotifyMicData,
			Opcode: CmdMicData,
			Seq:    data[1],
			Audio:  data[2:],
		}, nil

	default:
		return &Notification{
			Kind:   NotifyAck,
			Opcode: data[0],
			Status: data[1],
		}, nil
	}
}
