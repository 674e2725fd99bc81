package chunker

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"layeh.com/gopus"

	"github.com/polyglot-labs/polyglot/pkg/audio"
)

// Opus frame size for speech at 16 kHz mono: 20 ms = 320 samples.
const (
	opusFrameMs   = 20
	opusFrameSize = audio.PipelineSampleRate * opusFrameMs / 1000
	opusMaxPacket = 4000
)

// ContainerChunker implements the bounded-duration container mode: it
// accumulates encoded audio and emits one self-contained chunk per interval.
// The Opus encoder is re-created at every boundary, so each chunk is
// independently transcodable rather than a continuation of its predecessor.
//
// Boundaries are measured against the injected clock on Push, keeping the
// chunker free of its own timers (the session controller owns all timers).
// Not safe for concurrent use.
type ContainerChunker struct {
	encoding Encoding
	interval time.Duration
	now      func() time.Time

	enc      *gopus.Encoder
	packets  []byte // length-prefixed opus packets for the current chunk
	pcmTail  []int16
	rawPCM   []byte // accumulated PCM for WAV mode
	lastCut  time.Time
	started  bool
	seq      uint64
	flushed  bool
	format   audio.Format
}

// ContainerOption configures a [ContainerChunker].
type ContainerOption func(*ContainerChunker)

// WithInterval overrides the boundary period. Values <= 0 keep the default.
func WithInterval(d time.Duration) ContainerOption {
	return func(c *ContainerChunker) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) ContainerOption {
	return func(c *ContainerChunker) {
		if now != nil {
			c.now = now
		}
	}
}

// NewContainerChunker creates a container-mode chunker producing enc chunks.
// Only [EncodingOpus] and [EncodingWAV] are valid.
func NewContainerChunker(enc Encoding, opts ...ContainerOption) (*ContainerChunker, error) {
	if enc != EncodingOpus && enc != EncodingWAV {
		return nil, fmt.Errorf("chunker: encoding %q is not a container encoding", enc)
	}
	c := &ContainerChunker{
		encoding: enc,
		interval: DefaultInterval,
		now:      time.Now,
		format:   audio.PipelineFormat,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Push appends a frame, cutting a chunk when the boundary interval has
// elapsed. Frames pushed after Flush are discarded.
func (c *ContainerChunker) Push(frame audio.Frame) ([]Chunk, error) {
	if c.flushed || len(frame.Data) == 0 {
		return nil, nil
	}
	if !c.started {
		c.started = true
		c.lastCut = c.now()
	}

	if err := c.ingest(frame.Data); err != nil {
		return nil, err
	}

	if c.now().Sub(c.lastCut) < c.interval {
		return nil, nil
	}
	ch, ok := c.cut(false)
	if !ok {
		return nil, nil
	}
	return []Chunk{ch}, nil
}

// Flush emits the accumulated tail as the final chunk, exactly once. The
// final chunk is produced even when no new audio arrived since the last
// boundary, as long as any encoded data remains.
func (c *ContainerChunker) Flush() (Chunk, bool) {
	if c.flushed {
		return Chunk{}, false
	}
	c.flushed = true
	return c.cut(true)
}

// ingest encodes frame data into the current chunk's buffer.
func (c *ContainerChunker) ingest(data []byte) error {
	if c.encoding == EncodingWAV {
		c.rawPCM = append(c.rawPCM, data...)
		return nil
	}

	c.pcmTail = append(c.pcmTail, audio.PCM16ToInt16(data)...)
	for len(c.pcmTail) >= opusFrameSize {
		if err := c.encodeOpusFrame(c.pcmTail[:opusFrameSize]); err != nil {
			return err
		}
		c.pcmTail = c.pcmTail[opusFrameSize:]
	}
	return nil
}

// encodeOpusFrame encodes one 20 ms frame and appends it length-prefixed.
func (c *ContainerChunker) encodeOpusFrame(pcm []int16) error {
	if c.enc == nil {
		enc, err := gopus.NewEncoder(c.format.SampleRate, c.format.Channels, gopus.Voip)
		if err != nil {
			return fmt.Errorf("chunker: create opus encoder: %w", err)
		}
		c.enc = enc
	}
	packet, err := c.enc.Encode(pcm, opusFrameSize, opusMaxPacket)
	if err != nil {
		return fmt.Errorf("chunker: opus encode: %w", err)
	}
	c.packets = append(c.packets, byte(len(packet)), byte(len(packet)>>8))
	c.packets = append(c.packets, packet...)
	return nil
}

// cut closes the current chunk and restarts the encoder for the next one.
func (c *ContainerChunker) cut(final bool) (Chunk, bool) {
	var payload []byte
	switch c.encoding {
	case EncodingWAV:
		if len(c.rawPCM) == 0 {
			return Chunk{}, false
		}
		payload = wrapWAV(c.rawPCM, c.format)
		c.rawPCM = nil
	case EncodingOpus:
		if final && len(c.pcmTail) > 0 {
			// Pad the tail to a full frame so the last samples survive.
			padded := make([]int16, opusFrameSize)
			copy(padded, c.pcmTail)
			c.pcmTail = nil
			if err := c.encodeOpusFrame(padded); err != nil {
				return Chunk{}, false
			}
		}
		if len(c.packets) == 0 {
			return Chunk{}, false
		}
		payload = c.packets
		c.packets = nil
		// Fresh encoder for the next chunk keeps every chunk independent.
		c.enc = nil
	}

	c.lastCut = c.now()
	c.seq++
	return Chunk{
		ID:       uuid.NewString(),
		Seq:      c.seq,
		Payload:  payload,
		Encoding: c.encoding,
		Final:    final,
	}, true
}

// Seq returns the sequence index of the last emitted chunk.
func (c *ContainerChunker) Seq() uint64 { return c.seq }
