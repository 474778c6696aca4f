package service

import (
	"fmt"
	"sort"
)

// QualitySpec is one rung of the transcode ladder: the target resolution
// and video bitrate for a rendition, plus the audio rate paired with it.
type QualitySpec struct {
	Label       string
	Width       int
	Height      int
	BitrateKbps int
	AudioRate   string // e.g., "128k"
}

// Recognized ladder, highest bitrate first. Manifest entries and status
// responses follow this order no matter when each encode finishes.
var qualityLadder = []QualitySpec{
	{Label: "1080p", Width: 1920, Height: 1080, BitrateKbps: 4000, AudioRate: "192k"},
	{Label: "720p", Width: 1280, Height: 720, BitrateKbps: 2500, AudioRate: "192k"},
	{Label: "480p", Width: 854, Height: 480, BitrateKbps: 1500, AudioRate: "128k"},
	{Label: "360p", Width: 640, Height: 360, BitrateKbps: 800, AudioRate: "96k"},
}

// DefaultLadder returns the full recognized ladder.
func DefaultLadder() []QualitySpec {
	out := make([]QualitySpec, len(qualityLadder))
	copy(out, qualityLadder)
	return out
}

// ResolveLadder maps requested quality labels onto the recognized ladder.
// An empty request selects the whole ladder. Unknown labels are rejected;
// duplicates collapse; the result is always sorted highest bitrate first.
func ResolveLadder(labels []string) ([]QualitySpec, error) {
	if len(labels) == 0 {
		return DefaultLadder(), nil
	}

	byLabel := make(map[string]QualitySpec, len(qualityLadder))
	for _, q := range qualityLadder {
		byLabel[q.Label] = q
	}

	seen := make(map[string]bool, len(labels))
	out := make([]QualitySpec, 0, len(labels))
	for _, label := range labels {
		q, ok := byLabel[label]
		if !ok {
			return nil, fmt.Errorf("unknown quality %q", label)
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, q)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].BitrateKbps > out[j].BitrateKbps
	})
	return out, nil
}
