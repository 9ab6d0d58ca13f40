package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")

	samples := []int16{0, 0, 16384, -16384, 32767, -32768, 100, -100}
	if err := WriteWAVFile(path, samples, 8000, 2); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	dec := NewFileDecoder(8000, 2, "", quietLogger())
	buf, err := dec.Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if buf.SampleRate != 8000 || buf.Channels() != 2 || buf.Frames() != 4 {
		t.Fatalf("Unexpected format: %d Hz, %d channels, %d frames", buf.SampleRate, buf.Channels(), buf.Frames())
	}
	if buf.Data[0][1] != 0.5 || buf.Data[1][1] != -0.5 {
		t.Errorf("Expected ±0.5 at frame 1, got %v and %v", buf.Data[0][1], buf.Data[1][1])
	}
	if buf.Data[1][2] != -1 {
		t.Errorf("Expected -1 at frame 2, got %v", buf.Data[1][2])
	}
}

func TestDecodeConformsFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mono.wav")

	samples := make([]int16, 4000)
	for i := range samples {
		samples[i] = 8192
	}
	if err := WriteWAVFile(path, samples, 4000, 1); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	dec := NewFileDecoder(8000, 2, "", quietLogger())
	buf, err := dec.Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if buf.SampleRate != 8000 || buf.Channels() != 2 {
		t.Fatalf("Expected 8000 Hz stereo, got %d Hz with %d channels", buf.SampleRate, buf.Channels())
	}
	if buf.Frames() != 8000 {
		t.Errorf("Expected 8000 frames after resampling, got %d", buf.Frames())
	}
	if buf.Data[1][100] != 0.25 {
		t.Errorf("Expected mono to be copied to both channels, got %v", buf.Data[1][100])
	}
}

func TestDecodeInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.wav")
	if err := os.WriteFile(path, []byte("not a wav file"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	dec := NewFileDecoder(8000, 2, "", quietLogger())
	if _, err := dec.Decode(context.Background(), path); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}

func TestConformFoldsChannels(t *testing.T) {
	buf := NewBuffer(100, 3, 2)
	buf.Data[0] = []float32{0.1, 0.1}
	buf.Data[1] = []float32{0.2, 0.2}
	buf.Data[2] = []float32{0.4, 0.4}

	out := buf.Conform(100, 2)
	if out.Channels() != 2 {
		t.Fatalf("Expected 2 channels, got %d", out.Channels())
	}
	if out.Data[0][0] != 0.1 {
		t.Errorf("Expected first channel untouched, got %v", out.Data[0][0])
	}
	if diff := out.Data[1][0] - 0.3; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Expected folded channel 0.3, got %v", out.Data[1][0])
	}
}
