package server

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"composer/internal/audio"

	"github.com/sirupsen/logrus"
)

// handleAudioStream streams the realtime mix. The default format is an
// open-ended 16-bit WAV; ?format=mp3 encodes through ffmpeg.
func (cs *ComposerServer) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	if cs.broadcaster == nil || cs.mixer == nil {
		cs.respondWithError(w, r, http.StatusServiceUnavailable, "Audio stream not available", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	format := r.URL.Query().Get("format")
	if format != "" && format != "wav" && format != "mp3" {
		cs.respondWithValidationError(w, r, []ValidationError{{
			Field:   "format",
			Message: "Format must be wav or mp3",
			Code:    "INVALID_FORMAT",
		}})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	listener := cs.broadcaster.Subscribe()
	defer cs.broadcaster.Unsubscribe(listener)

	cs.logger.WithField("listeners", cs.broadcaster.ListenerCount()).Info("Audio listener connected")
	defer cs.logger.Info("Audio listener disconnected")

	w.Header().Set("Cache-Control", "no-cache, no-store")

	if format == "mp3" {
		cs.streamMP3(ctx, w, flusher, listener)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	if _, err := w.Write(streamingWAVHeader(cs.mixer.SampleRate(), cs.mixer.Channels())); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Done():
			return
		case frame := <-listener.C:
			if _, err := w.Write(samplesToBytes(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// streamMP3 pipes PCM frames through ffmpeg and copies the MP3 output to w.
func (cs *ComposerServer) streamMP3(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, listener *audio.Listener) {
	cmd := exec.CommandContext(ctx, cs.config.Media.FFmpegPath,
		"-f", "s16le",
		"-ar", strconv.Itoa(cs.mixer.SampleRate()),
		"-ac", strconv.Itoa(cs.mixer.Channels()),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", "192k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cs.logger.WithError(err).Error("Audio stream: stdin pipe error")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cs.logger.WithError(err).Error("Audio stream: stdout pipe error")
		return
	}
	if err := cmd.Start(); err != nil {
		cs.logger.WithError(err).Error("Audio stream: ffmpeg start error")
		return
	}
	defer cmd.Wait()

	w.Header().Set("Content-Type", "audio/mpeg")

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(samplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				cs.logger.WithError(err).WithFields(logrus.Fields{"format": "mp3"}).Warn("Audio stream: ffmpeg read error")
			}
			return
		}
	}
}

// streamingWAVHeader describes 16-bit PCM of unknown length.
func streamingWAVHeader(sampleRate, channels int) []byte {
	const unknown = 0xFFFFFFFF
	blockAlign := channels * 2

	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], unknown)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], unknown)
	return h
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
