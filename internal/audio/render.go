package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RenderOffline mixes seconds of the engine's clips into a fresh mixer,
// buffering the lookahead window as it goes, and returns interleaved int16
// PCM.
func RenderOffline(engine *Engine, mixer *Mixer, seconds float64) []int16 {
	rate := mixer.SampleRate()
	total := int(math.Ceil(seconds * float64(rate)))
	chunk := int(engine.lookahead / 2 * float64(rate))
	if chunk < 1 {
		chunk = 1
	}

	engine.Stop()
	out := make([]int16, 0, total*mixer.Channels())
	for rendered := 0; rendered < total; {
		engine.BufferClips(float64(rendered) / float64(rate))
		n := min(chunk, total-rendered)
		out = append(out, mixer.RenderInt16(n)...)
		rendered += n
	}
	engine.Stop()
	return out
}

// WriteWAV encodes interleaved int16 PCM as a 16-bit WAV file.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to a new WAV file at path.
func WriteWAVFile(path string, samples []int16, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteWAV(f, samples, sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
