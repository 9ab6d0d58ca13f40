package main

import (
	"fmt"
	"strconv"
	"strings"

	"composer/internal/scene"
	"composer/pkg/models"
)

// parseScenes turns name=frames flags into headless scenes the library can
// offer as scene sources.
func parseScenes(values []string, timing models.Timing) ([]models.Scene, error) {
	scenes := make([]models.Scene, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid scene %q: expected name=frames", value)
		}
		if scene.IsInternal(name) {
			return nil, fmt.Errorf("invalid scene %q: name is reserved", value)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate scene %q", name)
		}
		frames, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || frames <= 0 {
			return nil, fmt.Errorf("invalid scene %q: frames must be a positive integer", value)
		}
		seen[name] = true
		scenes = append(scenes, scene.NewMedia(name, frames, timing))
	}
	return scenes, nil
}
