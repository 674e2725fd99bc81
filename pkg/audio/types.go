// Package audio defines the frame types and PCM conversion helpers shared by
// the capture and chunking layers.
//
// All PCM data flowing through the pipeline is little-endian signed 16-bit.
// Frames are the atomic unit of audio transport — captured from input
// sources, converted to the target format, and sliced into chunks.
package audio

import "time"

// Frame represents a single frame of audio data flowing through the pipeline.
type Frame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (16000 for the speech-recognition pipeline).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo device input.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// PipelineSampleRate is the sample rate the downstream speech pipeline
// expects.
const PipelineSampleRate = 16000

// PipelineFormat is the format the downstream speech pipeline expects:
// 16 kHz mono PCM.
var PipelineFormat = Format{SampleRate: PipelineSampleRate, Channels: 1}
