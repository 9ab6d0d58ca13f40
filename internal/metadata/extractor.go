package metadata

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"composer/pkg/models"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/webp"
)

// ErrUnsupported is returned for files outside the configured formats.
var ErrUnsupported = errors.New("unsupported media format")

// Options configures which files the extractor accepts and how it probes
// formats it cannot parse itself.
type Options struct {
	AudioFormats []string
	VideoFormats []string
	ImageFormats []string

	// FFprobePath is used for durations the native parsers cannot read.
	// Empty disables the fallback.
	FFprobePath string

	// ImageDuration is the duration given to still images. Zero leaves
	// images unbounded.
	ImageDuration float64
}

// Extractor probes media files into clip sources
type Extractor struct {
	opts   Options
	logger *logrus.Logger
}

// NewExtractor creates a new metadata extractor
func NewExtractor(opts Options, logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Extractor{opts: opts, logger: logger}
}

// Classify returns the clip type of a file by its extension.
func (e *Extractor) Classify(path string) (models.ClipType, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case contains(e.opts.AudioFormats, ext):
		return models.ClipAudio, true
	case contains(e.opts.VideoFormats, ext):
		return models.ClipVideo, true
	case contains(e.opts.ImageFormats, ext):
		return models.ClipImage, true
	}
	return "", false
}

// Extract probes the file at filePath. The source is identified by name,
// which is usually the path relative to the media library.
func (e *Extractor) Extract(ctx context.Context, filePath, name string) (*models.ClipSource, error) {
	startTime := time.Now()

	clipType, ok := e.Classify(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(filePath))
	}

	fingerprint, err := Fingerprint(filePath)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Error("Failed to fingerprint media file")
		return nil, err
	}

	source := &models.ClipSource{
		Type:        clipType,
		Path:        filepath.ToSlash(name),
		Name:        strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Fingerprint: fingerprint,
	}

	switch clipType {
	case models.ClipImage:
		width, height, err := imageSize(filePath)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"filePath": filePath,
				"error":    err.Error(),
			}).Warn("Failed to read image dimensions")
		}
		source.Width, source.Height = width, height
		source.Duration = e.opts.ImageDuration

	default:
		duration, err := e.calculateDuration(ctx, filePath)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"filePath": filePath,
				"error":    err.Error(),
			}).Warn("Failed to calculate duration, setting to 0")
			duration = 0
		}
		source.Duration = duration

		if clipType == models.ClipAudio {
			if title := readTitle(filePath); title != "" {
				source.Name = title
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"filePath":       filePath,
		"type":           source.Type,
		"duration":       source.Duration,
		"processingTime": time.Since(startTime),
	}).Debug("Successfully extracted metadata")

	return source, nil
}

// Fingerprint returns a content hash of the file. Sources with an unchanged
// fingerprint keep their decoded audio and waveform.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// calculateDuration calculates the duration of a media file in seconds
func (e *Extractor) calculateDuration(ctx context.Context, filePath string) (float64, error) {
	var (
		duration float64
		err      error
	)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		duration, err = durationMP3(filePath)
	case ".flac":
		duration, err = durationFLAC(filePath)
	case ".wav":
		duration, err = durationWAV(filePath)
	case ".m4a", ".mp4", ".mov":
		duration, err = durationMP4(filePath)
	default:
		err = fmt.Errorf("no native parser for %s", filepath.Ext(filePath))
	}
	if err == nil {
		return duration, nil
	}

	if e.opts.FFprobePath == "" {
		return 0, err
	}
	probed, probeErr := e.durationFFprobe(ctx, filePath)
	if probeErr != nil {
		return 0, fmt.Errorf("%v; ffprobe: %w", err, probeErr)
	}
	return probed, nil
}

// MP3 duration using frame decoding
func durationMP3(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break // partial decode; use what we have
			}
			return 0, fmt.Errorf("no mp3 frames: %w", err)
		}
		total += fr.Duration()
		frames++
	}
	return total.Seconds(), nil
}

// FLAC duration via STREAMINFO metadata block
func durationFLAC(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		return float64(si.NSamples) / float64(si.SampleRate), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration from the PCM chunk size
func durationWAV(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

// durationMP4 reads the movie header of an ISO base media file (mp4, mov,
// m4a).
func durationMP4(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}

	moov, err := findAtom(f, st.Size(), "moov")
	if err != nil {
		return 0, err
	}
	if _, err := findAtom(f, moov, "mvhd"); err != nil {
		return 0, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, err
	}

	var timescale uint32
	var units uint64
	if header[0] == 1 {
		// 64-bit creation and modification times
		buf := make([]byte, 8+8+4+8)
		if _, err := io.ReadFull(f, buf); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[16:20])
		units = binary.BigEndian.Uint64(buf[20:28])
	} else {
		buf := make([]byte, 4+4+4+4)
		if _, err := io.ReadFull(f, buf); err != nil {
			return 0, err
		}
		timescale = binary.BigEndian.Uint32(buf[8:12])
		units = uint64(binary.BigEndian.Uint32(buf[12:16]))
	}
	if timescale == 0 {
		return 0, fmt.Errorf("invalid timescale")
	}
	return float64(units) / float64(timescale), nil
}

// findAtom scans sibling atoms in the next limit bytes of r for name and
// leaves r positioned at its payload. It returns the payload size.
func findAtom(r io.ReadSeeker, limit int64, name string) (int64, error) {
	head := make([]byte, 8)
	for read := int64(0); read+8 <= limit; {
		if _, err := io.ReadFull(r, head); err != nil {
			return 0, err
		}
		size := int64(binary.BigEndian.Uint32(head[0:4]))
		headerSize := int64(8)
		if size == 1 {
			ext := make([]byte, 8)
			if _, err := io.ReadFull(r, ext); err != nil {
				return 0, err
			}
			size = int64(binary.BigEndian.Uint64(ext))
			headerSize = 16
		} else if size == 0 {
			size = limit - read
		}
		if size < headerSize {
			return 0, fmt.Errorf("invalid atom size")
		}

		if string(head[4:8]) == name {
			return size - headerSize, nil
		}
		if _, err := r.Seek(size-headerSize, io.SeekCurrent); err != nil {
			return 0, err
		}
		read += size
	}
	return 0, fmt.Errorf("%s atom not found", name)
}

// durationFFprobe asks ffprobe for the container duration.
func (e *Extractor) durationFFprobe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// readTitle returns the embedded title tag, if any.
func readTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(m.Title())
}

// GetContentType returns the MIME type for a media file
func GetContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func contains(list []string, ext string) bool {
	for _, v := range list {
		if strings.EqualFold(v, ext) {
			return true
		}
	}
	return false
}
