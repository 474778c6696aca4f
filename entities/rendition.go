package entities

import "time"

// Rendition is one successfully encoded variant of a job's source video.
// Failed encodes never get a row; the set of rows for a job is always a
// subset of the job's quality ladder.
type Rendition struct {
	ID           uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	JobID        string    `json:"-" gorm:"type:uuid;index"`
	Quality      string    `json:"quality"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	BitrateKbps  int       `json:"bitrate_kbps"`
	PlaylistPath string    `json:"playlist_path"` // relative to the job root
	ProducedAt   time.Time `json:"produced_at"`
}

func (Rendition) TableName() string {
	return "renditions"
}
