package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/Anson-y-chang/stream.io/constant"
)

// JobMessage is published by the ingestion backend once an upload has been
// persisted to disk. Redelivery is possible; consumers must treat JobId as
// the idempotency key.
type JobMessage struct {
	JobId       uuid.UUID `json:"jobId"`
	SourcePath  string    `json:"sourcePath"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Qualities   []string  `json:"qualities"`
}

type SubmitJobRequest struct {
	SourcePath  string   `json:"source_path" binding:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Qualities   []string `json:"qualities"`
}

type SubmitJobResponse struct {
	Id     string             `json:"id"`
	Status constant.JobStatus `json:"status"`
}

type RenditionInfo struct {
	Quality      string    `json:"quality"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	BitrateKbps  int       `json:"bitrate_kbps"`
	PlaylistPath string    `json:"playlist_path"`
	ProducedAt   time.Time `json:"produced_at"`
}

// JobStatusResponse is the polling surface for clients. ManifestPath and
// Renditions are only populated once the job has completed; renditions are
// listed in ladder order, highest bitrate first, so repeated polls of a
// finished job marshal identically.
type JobStatusResponse struct {
	Id              string             `json:"id"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Status          constant.JobStatus `json:"status"`
	DurationSeconds float64            `json:"duration_seconds"`
	ManifestPath    string             `json:"manifest_path,omitempty"`
	Renditions      []RenditionInfo    `json:"renditions,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}
