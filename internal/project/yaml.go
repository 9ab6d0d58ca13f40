package project

import (
	"context"
	"fmt"
	"io"

	"composer/pkg/models"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// documentVersion is bumped when the exported layout changes.
const documentVersion = 1

// Document is the portable form of a composition.
type Document struct {
	Version     int             `yaml:"version"`
	FPS         float64         `yaml:"fps"`
	UUIDNext    int64           `yaml:"uuidNext"`
	TargetTrack int             `yaml:"targetTrack"`
	Tracks      []models.Track  `yaml:"tracks"`
	Channels    [][]models.Clip `yaml:"channels"`
}

// ExportYAML writes the clip list, tracks and uuid counter as YAML.
func (p *Project) ExportYAML(w io.Writer) error {
	p.mu.Lock()
	doc := Document{
		Version:     documentVersion,
		FPS:         p.opts.Timing.FPS,
		UUIDNext:    p.uuids.Peek(),
		TargetTrack: p.targetTrack,
		Tracks:      append([]models.Track(nil), p.tracks...),
		Channels:    models.StripChannels(p.clips),
	}
	p.mu.Unlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}
	return enc.Close()
}

// ImportYAML replaces the composition with one read from YAML. The clip list
// is validated like any other; an invalid document changes nothing.
func (p *Project) ImportYAML(ctx context.Context, r io.Reader) error {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode project: %w", err)
	}
	if doc.Version > documentVersion {
		return fmt.Errorf("unsupported project version %d", doc.Version)
	}
	if doc.FPS != 0 && doc.FPS != p.opts.Timing.FPS {
		p.logger.WithFields(logrus.Fields{
			"document_fps": doc.FPS,
			"project_fps":  p.opts.Timing.FPS,
		}).Warn("Importing a project authored at a different frame rate")
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	previous := p.tracks
	p.tracks = doc.Tracks
	snapshot, err := p.apply(doc.Channels)
	if err != nil {
		p.tracks = previous
		p.mu.Unlock()
		return err
	}
	p.uuids.Set(doc.UUIDNext)
	p.targetTrack = clamp(doc.TargetTrack, 0, len(p.tracks)-1)
	p.mu.Unlock()

	if err := p.persist(); err != nil {
		p.logger.WithError(err).Error("Failed to persist imported project")
	}
	return p.publish(ctx, snapshot)
}
