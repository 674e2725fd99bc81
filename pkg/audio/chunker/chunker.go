// Package chunker slices a continuous capture stream into transport-sized
// chunks.
//
// Two operating modes are provided. [PCMChunker] frames raw int16 PCM into
// fixed-size blocks for the low-latency streaming path; every block is
// independently decodable. [ContainerChunker] accumulates encoded audio and
// cuts one self-contained container chunk per wall-clock interval; the
// encoder is restarted at each boundary so no chunk is a fragment requiring
// its predecessors.
//
// Both modes guarantee: no zero-length payloads, chunks emitted in capture
// order, a strictly increasing sequence index, and an exactly-once final
// flush.
package chunker

import (
	"time"

	"github.com/google/uuid"

	"github.com/polyglot-labs/polyglot/pkg/audio"
)

// Encoding identifies the payload format of a chunk.
type Encoding string

const (
	// EncodingPCM16 is raw little-endian int16 PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingOpus is a sequence of uint16-length-prefixed Opus packets
	// produced by a fresh encoder, so the chunk decodes without prior
	// chunks.
	EncodingOpus Encoding = "opus"

	// EncodingWAV is a complete RIFF/WAVE file per chunk.
	EncodingWAV Encoding = "wav"
)

const (
	// DefaultBlockSamples is the raw-mode block size: 8192 samples ≈ 0.5 s
	// at 16 kHz, the latency/throughput trade-off inherited from the
	// capture pipeline.
	DefaultBlockSamples = 8192

	// DefaultInterval is the container-mode boundary period.
	DefaultInterval = 15 * time.Second
)

// Chunk is one bounded unit of audio. Immutable once created; ownership
// transfers to the transport on send.
type Chunk struct {
	// ID is a unique correlation identifier.
	ID string

	// Seq strictly increases within one capture session.
	Seq uint64

	// Payload is never empty.
	Payload []byte

	Encoding Encoding

	// Final marks the chunk produced by Flush.
	Final bool
}

// PCMChunker implements the low-latency raw mode: fixed-size independent
// PCM blocks. Not safe for concurrent use; feed it from a single goroutine.
type PCMChunker struct {
	blockBytes int
	buf        []byte
	seq        uint64
	flushed    bool
}

// NewPCMChunker creates a raw-mode chunker emitting blocks of blockSamples
// int16 samples. blockSamples <= 0 selects [DefaultBlockSamples].
func NewPCMChunker(blockSamples int) *PCMChunker {
	if blockSamples <= 0 {
		blockSamples = DefaultBlockSamples
	}
	return &PCMChunker{blockBytes: blockSamples * 2}
}

// Push appends a frame and returns any complete blocks. Frames pushed after
// Flush are discarded.
func (c *PCMChunker) Push(frame audio.Frame) []Chunk {
	if c.flushed || len(frame.Data) == 0 {
		return nil
	}
	c.buf = append(c.buf, frame.Data...)

	var out []Chunk
	for len(c.buf) >= c.blockBytes {
		block := make([]byte, c.blockBytes)
		copy(block, c.buf[:c.blockBytes])
		c.buf = c.buf[c.blockBytes:]
		out = append(out, c.next(block, EncodingPCM16, false))
	}
	return out
}

// Flush emits the buffered tail as the final chunk. The final chunk is
// produced exactly once: a second Flush is a no-op, so a stop invoked twice
// in quick succession cannot replay the tail. Returns false when nothing
// remains to flush.
func (c *PCMChunker) Flush() (Chunk, bool) {
	if c.flushed {
		return Chunk{}, false
	}
	c.flushed = true
	if len(c.buf) == 0 {
		return Chunk{}, false
	}
	tail := c.buf
	c.buf = nil
	return c.next(tail, EncodingPCM16, true), true
}

func (c *PCMChunker) next(payload []byte, enc Encoding, final bool) Chunk {
	c.seq++
	return Chunk{
		ID:       uuid.NewString(),
		Seq:      c.seq,
		Payload:  payload,
		Encoding: enc,
		Final:    final,
	}
}

// Seq returns the sequence index of the last emitted chunk.
func (c *PCMChunker) Seq() uint64 { return c.seq }
