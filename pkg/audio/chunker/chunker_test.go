package chunker

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/polyglot-labs/polyglot/pkg/audio"
)

func pcmFrame(samples int) audio.Frame {
	return audio.Frame{
		Data:       make([]byte, samples*2),
		SampleRate: audio.PipelineSampleRate,
		Channels:   1,
	}
}

func TestPCMChunker(t *testing.T) {
	t.Run("emits fixed-size blocks in order", func(t *testing.T) {
		c := NewPCMChunker(100)

		chunks := c.Push(pcmFrame(250))
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		for _, ch := range chunks {
			if len(ch.Payload) != 200 {
				t.Errorf("chunk %d payload %d bytes, want 200", ch.Seq, len(ch.Payload))
			}
		}

		// 50 samples remain buffered; 50 more completes a third block.
		chunks = c.Push(pcmFrame(50))
		if len(chunks) != 1 || chunks[0].Seq != 3 {
			t.Fatalf("expected third block, got %+v", chunks)
		}
	})

	t.Run("sequence strictly increases and payloads are never empty", func(t *testing.T) {
		c := NewPCMChunker(10)
		var last uint64
		for range 5 {
			for _, ch := range c.Push(pcmFrame(25)) {
				if ch.Seq <= last {
					t.Fatalf("sequence not strictly increasing: %d after %d", ch.Seq, last)
				}
				last = ch.Seq
				if len(ch.Payload) == 0 {
					t.Fatal("zero-length payload emitted")
				}
			}
		}
	})

	t.Run("flush delivers the tail exactly once", func(t *testing.T) {
		c := NewPCMChunker(100)
		c.Push(pcmFrame(30))

		final, ok := c.Flush()
		if !ok {
			t.Fatal("expected a final chunk")
		}
		if !final.Final {
			t.Error("flush chunk not marked final")
		}
		if len(final.Payload) != 60 {
			t.Errorf("final payload %d bytes, want 60", len(final.Payload))
		}

		// A second stop must not replay the tail.
		if _, ok := c.Flush(); ok {
			t.Error("second flush produced a chunk")
		}
	})

	t.Run("flush with empty buffer emits nothing", func(t *testing.T) {
		c := NewPCMChunker(100)
		if _, ok := c.Flush(); ok {
			t.Error("flush of empty chunker produced a chunk")
		}
	})

	t.Run("push after flush is discarded", func(t *testing.T) {
		c := NewPCMChunker(10)
		c.Flush()
		if chunks := c.Push(pcmFrame(100)); chunks != nil {
			t.Errorf("expected no chunks after flush, got %d", len(chunks))
		}
	})

	t.Run("unique chunk ids", func(t *testing.T) {
		c := NewPCMChunker(10)
		seen := map[string]bool{}
		for _, ch := range c.Push(pcmFrame(100)) {
			if seen[ch.ID] {
				t.Fatalf("duplicate chunk id %s", ch.ID)
			}
			seen[ch.ID] = true
		}
	})
}

func TestContainerChunkerWAV(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }

	newChunker := func(t *testing.T) *ContainerChunker {
		t.Helper()
		c, err := NewContainerChunker(EncodingWAV, WithInterval(15*time.Second), WithClock(now))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return c
	}

	t.Run("cuts one self-contained chunk per interval", func(t *testing.T) {
		clock = time.Unix(0, 0)
		c := newChunker(t)

		if chunks, _ := c.Push(pcmFrame(1600)); chunks != nil {
			t.Fatal("chunk emitted before the interval elapsed")
		}

		clock = clock.Add(16 * time.Second)
		chunks, err := c.Push(pcmFrame(1600))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("got %d chunks, want 1", len(chunks))
		}

		ch := chunks[0]
		if ch.Encoding != EncodingWAV {
			t.Errorf("encoding %q, want wav", ch.Encoding)
		}
		if string(ch.Payload[:4]) != "RIFF" || string(ch.Payload[8:12]) != "WAVE" {
			t.Error("payload is not a RIFF/WAVE file")
		}
		dataLen := binary.LittleEndian.Uint32(ch.Payload[40:44])
		if int(dataLen) != 2*1600*2 {
			t.Errorf("data length %d, want %d", dataLen, 2*1600*2)
		}
	})

	t.Run("each interval restarts the container", func(t *testing.T) {
		clock = time.Unix(0, 0)
		c := newChunker(t)
		c.Push(pcmFrame(100))

		clock = clock.Add(16 * time.Second)
		first, _ := c.Push(pcmFrame(100))

		clock = clock.Add(16 * time.Second)
		second, _ := c.Push(pcmFrame(100))

		if len(first) != 1 || len(second) != 1 {
			t.Fatal("expected one chunk per boundary")
		}
		// The second chunk holds only audio captured after the first cut.
		firstData := binary.LittleEndian.Uint32(first[0].Payload[40:44])
		secondData := binary.LittleEndian.Uint32(second[0].Payload[40:44])
		if firstData != 400 || secondData != 200 {
			t.Errorf("data lengths %d/%d, want 400/200", firstData, secondData)
		}
		if second[0].Seq != first[0].Seq+1 {
			t.Error("sequence not increasing across boundaries")
		}
	})

	t.Run("final chunk flushed exactly once", func(t *testing.T) {
		clock = time.Unix(0, 0)
		c := newChunker(t)
		c.Push(pcmFrame(50))

		final, ok := c.Flush()
		if !ok || !final.Final {
			t.Fatal("expected a final chunk")
		}
		if _, ok := c.Flush(); ok {
			t.Error("second flush produced a chunk")
		}
		if chunks, _ := c.Push(pcmFrame(50)); chunks != nil {
			t.Error("push after flush produced chunks")
		}
	})

	t.Run("rejects non-container encodings", func(t *testing.T) {
		if _, err := NewContainerChunker(EncodingPCM16); err == nil {
			t.Error("expected an error for pcm16 container")
		}
	})
}
