package entity

import (
	"time"

	"github.com/google/uuid"
)

// GeneratedImage is owned by its job and shares its lifetime.
type GeneratedImage struct {
	ID         string        `json:"id"`
	JobID      string        `json:"job_id"`
	Metadata   ImageMetadata `json:"metadata"`
	IsSelected bool          `json:"is_selected"`
	IsDeleted  bool          `json:"is_deleted"`
	CreatedAt  time.Time     `json:"created_at"`
}

func newGeneratedImage(jobID string, meta ImageMetadata) *GeneratedImage {
	return &GeneratedImage{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
}
