package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
)

// ErrDecode wraps every failure to turn a source into samples.
var ErrDecode = errors.New("audio decode failed")

// Decoder turns a media file into a buffer at the engine's output format.
type Decoder interface {
	Decode(ctx context.Context, path string) (*Buffer, error)
}

// FileDecoder decodes WAV and FLAC natively and hands everything else to
// ffmpeg.
type FileDecoder struct {
	SampleRate int
	Channels   int
	FFmpegPath string

	// Root resolves relative source paths. Empty uses the working directory.
	Root string

	logger *logrus.Logger
}

// NewFileDecoder creates a decoder producing buffers at sampleRate with the
// given number of channels.
func NewFileDecoder(sampleRate, channels int, ffmpegPath string, logger *logrus.Logger) *FileDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FileDecoder{
		SampleRate: sampleRate,
		Channels:   channels,
		FFmpegPath: ffmpegPath,
		logger:     logger,
	}
}

// Decode reads path into a buffer.
func (d *FileDecoder) Decode(ctx context.Context, path string) (*Buffer, error) {
	var (
		buf *Buffer
		err error
	)

	if d.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(d.Root, filepath.FromSlash(path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		buf, err = decodeWAV(path)
	case ".flac":
		buf, err = decodeFLAC(path)
	default:
		buf, err = d.decodeFFmpeg(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, filepath.Base(path), err)
	}

	d.logger.WithFields(logrus.Fields{
		"source":      path,
		"sample_rate": buf.SampleRate,
		"channels":    buf.Channels(),
		"frames":      buf.Frames(),
	}).Debug("Decoded audio source")

	return buf.Conform(d.SampleRate, d.Channels), nil
}

func decodeWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if pcm.Format == nil || pcm.Format.NumChannels == 0 {
		return nil, fmt.Errorf("invalid wav header")
	}

	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	scale := float32(int64(1) << (uint(dec.BitDepth) - 1))

	buf := NewBuffer(pcm.Format.SampleRate, channels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := pcm.Data[i*channels+c]
			if dec.BitDepth == 8 {
				// 8-bit WAV is unsigned.
				v -= 128
			}
			buf.Data[c][i] = float32(v) / scale
		}
	}
	return buf, nil
}

func decodeFLAC(path string) (*Buffer, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	info := stream.Info
	if info.SampleRate == 0 || info.NChannels == 0 {
		return nil, fmt.Errorf("flac stream missing sample info")
	}

	channels := int(info.NChannels)
	scale := float32(int64(1) << (uint(info.BitsPerSample) - 1))
	data := make([][]float32, channels)
	for c := range data {
		data[c] = make([]float32, 0, info.NSamples)
	}

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		for c := 0; c < channels && c < len(frame.Subframes); c++ {
			for _, s := range frame.Subframes[c].Samples {
				data[c] = append(data[c], float32(s)/scale)
			}
		}
	}

	return &Buffer{SampleRate: int(info.SampleRate), Data: data}, nil
}

// decodeFFmpeg decodes any container ffmpeg understands to interleaved s16le.
func (d *FileDecoder) decodeFFmpeg(ctx context.Context, path string) (*Buffer, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(d.SampleRate),
		"-ac", strconv.Itoa(d.Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}

	// Drop a trailing partial sample frame.
	frameBytes := 2 * d.Channels
	out = out[:len(out)-len(out)%frameBytes]

	frames := len(out) / frameBytes
	buf := NewBuffer(d.SampleRate, d.Channels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < d.Channels; c++ {
			off := (i*d.Channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(out[off : off+2]))
			buf.Data[c][i] = float32(s) / 32768
		}
	}
	return buf, nil
}
