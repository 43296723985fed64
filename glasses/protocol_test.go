package glasses

import (
	"bytes"
	"strings"
	"testing"
)

func TestTextChunkRoundTrip(t *testing.T) {
	codec := NewCodec()

	inputs := []string{
		"short",
		strings.Repeat("pack my box with five dozen liquor jugs ", 20),
		strings.Repeat("x", MaxChunkPayload),   // exactly one chunk
		strings.Repeat("x", MaxChunkPayload+1), // one byte into the second
		"",
	}

	for _, input := range inputs {
		chunks := codec.EncodeTextChunks(input)
		if len(chunks) == 0 {
			t.Fatalf("expected at least one chunk for %d-byte input", len(input))
		}

		// Header consistency: chunkIndex < totalChunks on every chunk.
		total := int(chunks[0][2])
		if total != len(chunks) {
			t.Errorf("totalChunks header says %d, emitted %d", total, len(chunks))
		}
		for i, chunk := range chunks {
			if len(chunk) < TextHeaderSize {
				t.Fatalf("chunk %d shorter than header: %d bytes", i, len(chunk))
			}
			if chunk[0] != CmdText {
				t.Errorf("chunk %d opcode 0x%02X, want 0x%02X", i, chunk[0], CmdText)
			}
			if int(chunk[3]) >= total {
				t.Errorf("chunk %d index %d >= totalChunks %d", i, chunk[3], total)
			}
			if len(chunk)-TextHeaderSize > MaxChunkPayload {
				t.Errorf("chunk %d payload %d exceeds %d", i, len(chunk)-TextHeaderSize, MaxChunkPayload)
			}
		}

		decoded, err := ReassembleText(chunks)
		if err != nil {
			t.Fatalf("reassemble failed: %v", err)
		}
		if !bytes.Equal(decoded, []byte(input)) {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(decoded), len(input))
		}
	}
}

func TestTextHeaderSinglePage(t *testing.T) {
	codec := NewCodec()

	// Long enough to span many screens and several chunks; framing still
	// carries it as one page.
	chunks := codec.EncodeTextChunks(strings.Repeat("pack my box with five dozen liquor jugs ", 20))
	if len(chunks) < 2 {
		t.Fatalf("expected a multi-chunk message, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk[7] != 1 || chunk[8] != 1 {
			t.Errorf("chunk %d page/maxPages = %d/%d, want 1/1", i, chunk[7], chunk[8])
		}
	}
}

func TestReassembleRejectsTruncatedChunk(t *testing.T) {
	codec := NewCodec()
	chunks := codec.EncodeTextChunks(strings.Repeat("x", MaxChunkPayload+1))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	chunks[1] = chunks[1][:1]
	if _, err := ReassembleText(chunks); err == nil {
		t.Error("expected error for truncated chunk")
	}

	if _, err := ReassembleText([][]byte{{CmdText}, {CmdText, 0, 2}}); err == nil {
		t.Error("expected error for chunks shorter than the index byte")
	}
}

func TestTextSequenceMonotonic(t *testing.T) {
	codec := NewCodec()

	var prev byte
	for i := 0; i < 300; i++ {
		chunks := codec.EncodeTextChunks("hello")
		seq := chunks[0][1]
		if i > 0 && seq != prev+1 {
			t.Fatalf("emission %d: sequence %d does not follow %d", i, seq, prev)
		}
		// Every chunk of one message shares the message's sequence.
		for _, chunk := range chunks {
			if chunk[1] != seq {
				t.Errorf("chunk carries sequence %d, message has %d", chunk[1], seq)
			}
		}
		prev = seq
	}
}

func TestSequenceSharedAcrossMessageKinds(t *testing.T) {
	codec := NewCodec()

	first := codec.EncodeTextChunks("plain")
	second := codec.EncodeDoubleColumnChunks("left col", "right col")
	third := codec.EncodeTextChunks("plain again")

	if second[0][1] != first[0][1]+1 {
		t.Errorf("double-column message did not advance the text counter: %d after %d",
			second[0][1], first[0][1])
	}
	if third[0][1] != second[0][1]+1 {
		t.Errorf("text counter skipped: %d after %d", third[0][1], second[0][1])
	}
}

func TestWhitelistChunks(t *testing.T) {
	codec := NewCodec()
	payload := []byte(`{"list":[{"id":"com.example.app","name":"Example"}]}`)

	chunks := codec.EncodeWhitelistChunks(payload)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0][0] != CmdWhitelist {
		t.Errorf("opcode 0x%02X, want 0x%02X", chunks[0][0], CmdWhitelist)
	}
	if chunks[0][1] != 1 || chunks[0][2] != 0 {
		t.Errorf("header total/index = %d/%d, want 1/0", chunks[0][1], chunks[0][2])
	}
	if !bytes.Equal(chunks[0][WhitelistHeaderSize:], payload) {
		t.Error("whitelist payload corrupted")
	}

	// Multi-chunk split covers the payload with no gaps or overlaps.
	big := bytes.Repeat([]byte("w"), MaxChunkPayload*2+10)
	chunks = codec.EncodeWhitelistChunks(big)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	var rebuilt []byte
	for i, chunk := range chunks {
		if int(chunk[2]) != i {
			t.Errorf("chunk %d carries index %d", i, chunk[2])
		}
		rebuilt = append(rebuilt, chunk[WhitelistHeaderSize:]...)
	}
	if !bytes.Equal(rebuilt, big) {
		t.Error("whitelist multi-chunk payload corrupted")
	}
}

func TestMicDataFraming(t *testing.T) {
	codec := NewCodec()
	frame := []byte{0xAA, 0xBB, 0xCC}

	first := codec.EncodeMicData(frame)
	second := codec.EncodeMicData(frame)

	if first[0] != CmdMicData {
		t.Errorf("opcode 0x%02X, want 0x%02X", first[0], CmdMicData)
	}
	if second[1] != first[1]+1 {
		t.Errorf("audio sequence %d does not follow %d", second[1], first[1])
	}
	if !bytes.Equal(first[2:], frame) {
		t.Error("mic payload corrupted")
	}
}

func TestDecodeNotification(t *testing.T) {
	// Generic ack
	n, err := DecodeNotification([]byte{CmdMic, AckSuccess})
	if err != nil {
		t.Fatalf("ack decode failed: %v", err)
	}
	if n.Kind != NotifyAck || n.Opcode != CmdMic || n.Status != AckSuccess {
		t.Errorf("unexpected ack decode: %+v", n)
	}

	// Heartbeat telemetry: 3700mV, 83%
	n, err = DecodeNotification([]byte{CmdHeartbeat, 0x01, 83, 0x00, 0x74, 0x0E})
	if err != nil {
		t.Fatalf("heartbeat decode failed: %v", err)
	}
	if n.Kind != NotifyHeartbeat {
		t.Fatalf("expected heartbeat kind, got %v", n.Kind)
	}
	if n.Battery.Percent != 83 {
		t.Errorf("battery percent %d, want 83", n.Battery.Percent)
	}
	if n.Battery.VoltageM != 0x0E74 {
		t.Errorf("voltage %d, want %d", n.Battery.VoltageM, 0x0E74)
	}

	// Device order
	n, err = DecodeNotification([]byte{CmdDeviceOrder, OrderHeadUp})
	if err != nil {
		t.Fatalf("order decode failed: %v", err)
	}
	if n.Kind != NotifyDeviceOrder || n.Order != OrderHeadUp {
		t.Errorf("unexpected order decode: %+v", n)
	}

	// Mic data
	n, err = DecodeNotification([]byte{CmdMicData, 7, 1, 2, 3})
	if err != nil {
		t.Fatalf("mic decode failed: %v", err)
	}
	if n.Kind != NotifyMicData || n.Seq != 7 || len(n.Audio) != 3 {
		t.Errorf("unexpected mic decode: %+v", n)
	}

	// Malformed inputs are rejected, not panicked on.
	if _, err := DecodeNotification(nil); err == nil {
		t.Error("expected error for empty notification")
	}
	if _, err := DecodeNotification([]byte{CmdHeartbeat, 0x01}); err == nil {
		t.Error("expected error for truncated heartbeat")
	}
}

func TestCommandBuilders(t *testing.T) {
	if got := BrightnessCommand(42, true); !bytes.Equal(got, []byte{CmdBrightness, 42, 0x01}) {
		t.Errorf("brightness frame = % X", got)
	}
	if got := BrightnessCommand(200, false); got[1] != 63 {
		t.Errorf("brightness level not clamped: %d", got[1])
	}
	if got := SilentModeCommand(true); !bytes.Equal(got, []byte{CmdSilentMode, silentOn}) {
		t.Errorf("silent-on frame = % X", got)
	}
	if got := MicCommand(true); !bytes.Equal(got, []byte{CmdMic, 0x01}) {
		t.Errorf("mic-on frame = % X", got)
	}
	if got := HeartbeatCommand(9); !bytes.Equal(got, []byte{CmdHeartbeat, 0x06, 9, 0x04, 9}) {
		t.Errorf("heartbeat frame = % X", got)
	}
	if got := InitCommand(); !bytes.Equal(got, []byte{CmdInit, 0x01}) {
		t.Errorf("init frame = % X", got)
	}
}
