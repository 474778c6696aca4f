package entities

import (
	"time"

	"github.com/Anson-y-chang/stream.io/constant"
)

// Job tracks one uploaded video through the transcode pipeline. ID is
// assigned at submission and immutable; SourcePath and QualityLadder are
// fixed at creation. Only the orchestrator mutates a job after creation.
type Job struct {
	ID              string             `json:"id" gorm:"type:uuid;primaryKey"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	SourcePath      string             `json:"source_path"`
	ThumbnailPath   string             `json:"thumbnail_path"`
	DurationSeconds float64            `json:"duration_seconds"`
	QualityLadder   string             `json:"quality_ladder"` // comma-separated labels, creation order
	Status          constant.JobStatus `json:"status"`
	ManifestPath    string             `json:"manifest_path"` // relative to the job root, set on completion only
	CreatedAt       time.Time          `json:"created_at"`
	CompletedAt     *time.Time         `json:"completed_at"`
	Renditions      []Rendition        `json:"renditions" gorm:"foreignKey:JobID"`
}

func (Job) TableName() string {
	return "jobs"
}
