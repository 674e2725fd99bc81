package audio

import (
	"bytes"
	"testing"
)

func TestFloat32ToPCM16(t *testing.T) {
	t.Run("maps extremes exactly", func(t *testing.T) {
		got := Float32ToPCM16([]float32{-1, 0, 1})
		want := []byte{0x00, 0x80, 0x00, 0x00, 0xFF, 0x7F}
		if !bytes.Equal(got, want) {
			t.Errorf("got % X, want % X", got, want)
		}
	})

	t.Run("clamps out-of-range samples", func(t *testing.T) {
		got := Float32ToPCM16([]float32{-2.5, 3.0})
		want := []byte{0x00, 0x80, 0xFF, 0x7F}
		if !bytes.Equal(got, want) {
			t.Errorf("got % X, want % X", got, want)
		}
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		if got := Float32ToPCM16(nil); len(got) != 0 {
			t.Errorf("expected empty output, got %d bytes", len(got))
		}
	})
}

func TestInt16RoundTrip(t *testing.T) {
	in := []int16{-32768, -1, 0, 1, 32767}
	out := PCM16ToInt16(Int16ToPCM16(in))
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Run("averages channels", func(t *testing.T) {
		stereo := Int16ToPCM16([]int16{100, 200, -100, -300})
		mono := PCM16ToInt16(StereoToMono(stereo))
		want := []int16{150, -200}
		if len(mono) != len(want) {
			t.Fatalf("got %d samples, want %d", len(mono), len(want))
		}
		for i := range want {
			if mono[i] != want[i] {
				t.Errorf("sample %d: got %d, want %d", i, mono[i], want[i])
			}
		}
	})

	t.Run("halves byte count", func(t *testing.T) {
		out := StereoToMono(make([]byte, 400))
		if len(out) != 200 {
			t.Errorf("got %d bytes, want 200", len(out))
		}
	})
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate returns input unchanged", func(t *testing.T) {
		in := Int16ToPCM16([]int16{1, 2, 3})
		out := ResampleMono16(in, 16000, 16000)
		if !bytes.Equal(in, out) {
			t.Error("expected unchanged input")
		}
	})

	t.Run("downsample halves sample count", func(t *testing.T) {
		in := make([]byte, 2*480)
		out := ResampleMono16(in, 48000, 16000)
		if got := len(out) / 2; got != 160 {
			t.Errorf("got %d samples, want 160", got)
		}
	})

	t.Run("invalid rates return input", func(t *testing.T) {
		in := Int16ToPCM16([]int16{5})
		if out := ResampleMono16(in, 0, 16000); !bytes.Equal(in, out) {
			t.Error("expected unchanged input for zero source rate")
		}
	})
}

func TestFormatConverter(t *testing.T) {
	t.Run("fast path leaves matching frame untouched", func(t *testing.T) {
		conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
		frame := Frame{Data: Int16ToPCM16([]int16{1, 2}), SampleRate: 16000, Channels: 1}
		got := conv.Convert(frame)
		if !bytes.Equal(got.Data, frame.Data) {
			t.Error("fast path modified data")
		}
	})

	t.Run("downmixes and resamples 48k stereo to 16k mono", func(t *testing.T) {
		conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
		// 480 stereo samples at 48 kHz = 10 ms, expect 160 mono samples.
		frame := Frame{Data: make([]byte, 480*4), SampleRate: 48000, Channels: 2}
		got := conv.Convert(frame)
		if got.SampleRate != 16000 || got.Channels != 1 {
			t.Fatalf("got %dHz/%dch", got.SampleRate, got.Channels)
		}
		if len(got.Data)/2 != 160 {
			t.Errorf("got %d samples, want 160", len(got.Data)/2)
		}
	})

	t.Run("drops odd-byte frames", func(t *testing.T) {
		conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
		got := conv.Convert(Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if len(got.Data) != 0 {
			t.Errorf("expected dropped frame, got %d bytes", len(got.Data))
		}
	})
}
