package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MasterPlaylistName is the top-level manifest inside a job root.
const MasterPlaylistName = "master.m3u8"

// ManifestWriter assembles the master playlist for a job from its
// succeeded renditions. Callers must never pass an empty set; a job with
// zero renditions is failed without building a manifest.
type ManifestWriter interface {
	Write(jobRoot string, renditions []*RenditionArtifact) (string, error)
}

type hlsManifestWriter struct{}

func NewManifestWriter() ManifestWriter {
	return hlsManifestWriter{}
}

// Write emits the master playlist and renames it into place, so the asset
// server can never observe a partial manifest. Entries are ordered by
// bitrate descending regardless of encode completion order.
func (hlsManifestWriter) Write(jobRoot string, renditions []*RenditionArtifact) (string, error) {
	if len(renditions) == 0 {
		return "", &ManifestError{Cause: errors.New("no renditions to reference")}
	}

	entries := make([]*RenditionArtifact, len(renditions))
	copy(entries, renditions)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Quality.BitrateKbps > entries[j].Quality.BitrateKbps
	})

	var contentBuilder strings.Builder
	contentBuilder.WriteString("#EXTM3U\n")
	contentBuilder.WriteString("#EXT-X-VERSION:3\n\n")

	for _, r := range entries {
		var audioBitrateKbps int
		fmt.Sscanf(r.Quality.AudioRate, "%dk", &audioBitrateKbps)
		totalBandwidth := (r.Quality.BitrateKbps + audioBitrateKbps) * 1000

		contentBuilder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,CODECS=\"avc1.640028,mp4a.40.2\"\n",
			totalBandwidth, r.Quality.Width, r.Quality.Height))
		contentBuilder.WriteString(r.PlaylistPath + "\n")
	}

	tmp, err := os.CreateTemp(jobRoot, "master-*.m3u8.tmp")
	if err != nil {
		return "", &ManifestError{Cause: err}
	}
	if _, err := tmp.WriteString(contentBuilder.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", &ManifestError{Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", &ManifestError{Cause: err}
	}
	if err := os.Rename(tmp.Name(), filepath.Join(jobRoot, MasterPlaylistName)); err != nil {
		os.Remove(tmp.Name())
		return "", &ManifestError{Cause: err}
	}

	return MasterPlaylistName, nil
}
