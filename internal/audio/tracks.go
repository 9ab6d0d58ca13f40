package audio

import "composer/pkg/models"

// Audibility decides which tracks are heard. With no soloed track every
// unmuted track plays; a single soloed track plays alone; several soloed
// tracks play unless muted.
func Audibility(tracks []models.Track) []bool {
	solos := 0
	for _, t := range tracks {
		if t.Solo {
			solos++
		}
	}

	audible := make([]bool, len(tracks))
	for i, t := range tracks {
		switch {
		case solos == 0:
			audible[i] = !t.Muted
		case solos == 1:
			audible[i] = t.Solo
		default:
			audible[i] = t.Solo && !t.Muted
		}
	}
	return audible
}
