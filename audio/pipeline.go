// Package audio turns variable-sized PCM capture callbacks into an exact
// stream of encoded codec frames.
package audio

import (
	"fmt"
	"log"
	"sync"
)

// Target capture format: 16kHz, 16-bit, mono. One codec frame covers 10ms.
const (
	SampleRate       = 16000
	BytesPerSample   = 2
	DefaultFrameSize = 320
)

// Codec is the opaque encode/decode capability. The math inside is not this
// package's business; LC3 or anything else plugs in here.
type Codec interface {
	Encode(pcm []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
	FrameSize() int
}

// PCMCodec is the identity codec: frames pass through unencoded. Used when
// the peer accepts raw PCM.
type PCMCodec struct {
	Size int
}

func (c *PCMCodec) frameSize() int {
	if c.Size > 0 {
		return c.Size
	}
	return DefaultFrameSize
}

func (c *PCMCodec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != c.frameSize() {
		return nil, fmt.Errorf("pcm frame is %d bytes, want %d", len(pcm), c.frameSize())
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

func (c *PCMCodec) Decode(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c *PCMCodec) FrameSize() int { return c.frameSize() }

// NewPCMCodec returns a passthrough codec at the default frame size.
func NewPCMCodec() *PCMCodec { return &PCMCodec{} }

// Converter resamples captured audio to the target rate/width. The identity
// converter applies when the platform already captures at the target format.
type Converter interface {
	Convert(pcm []byte) []byte
}

type identityConverter struct{}

func (identityConverter) Convert(pcm []byte) []byte { return pcm }

// Sink receives each successfully encoded frame.
type Sink func(frame []byte)

// Pipeline accumulates converted PCM into a remainder buffer and encodes
// complete frames as they fill. Leftover bytes smaller than one frame are
// retained for the next capture callback, never dropped or duplicated, so
// frame alignment holds regardless of the capture buffer size.
type Pipeline struct {
	codec     Codec
	converter Converter

	mu        sync.Mutex
	remainder []byte
	sinks     []Sink
	started   bool
}

// NewPipeline builds a pipeline around a codec with no resampling.
func NewPipeline(codec Codec) *Pipeline {
	return &Pipeline{codec: codec, converter: identityConverter{}}
}

// SetConverter installs a resampler in front of the accumulator.
func (p *Pipeline) SetConverter(c Converter) {
	p.converter = c
}

// AddSink registers a consumer for encoded frames.
func (p *Pipeline) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// Start arms the pipeline.
func (p *Pipeline) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	log.Println("AUDIO: pipeline started")
}

// Stop disarms the pipeline and discards any partial frame. Safe to call
// while capture callbacks are still arriving.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.started = false
	p.remainder = nil
	p.mu.Unlock()
	log.Println("AUDIO: pipeline stopped")
}

// Push feeds one capture callback's worth of PCM through the converter and
// the frame slicer. A frame that fails to encode is logged and dropped; one
// bad frame must not stall the stream. The mutex is held across the slice
// loop so a concurrent Stop cannot race the remainder buffer; sinks run
// under it too, which is fine because sinks never call back into Push.
func (p *Pipeline) Push(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}

	p.remainder = append(p.remainder, p.converter.Convert(pcm)...)

	frameSize := p.codec.FrameSize()
	for len(p.remainder) >= frameSize {
		frame := p.remainder[:frameSize]
		encoded, err := p.codec.Encode(frame)
		if err != nil {
			log.Printf("AUDIO: frame encode failed, dropped: %v", err)
		} else {
			for _, sink := range p.sinks {
				sink(encoded)
			}
		}
		p.remainder = p.remainder[frameSize:]
	}
}
