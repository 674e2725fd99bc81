package chunker

import (
	"bytes"
	"encoding/binary"

	"github.com/polyglot-labs/polyglot/pkg/audio"
)

// wrapWAV wraps raw int16 PCM in a complete RIFF/WAVE file so the chunk is
// playable on its own.
func wrapWAV(pcm []byte, format audio.Format) []byte {
	const headerLen = 44
	byteRate := format.SampleRate * format.Channels * 2
	blockAlign := format.Channels * 2

	buf := bytes.NewBuffer(make([]byte, 0, headerLen+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
