package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"bookviz-api/internal/domain/entity"
)

type jobModel struct {
	ID                  string         `gorm:"column:id;primaryKey;type:uuid"`
	UserID              string         `gorm:"column:user_id"`
	BookID              string         `gorm:"column:book_id"`
	PageID              string         `gorm:"column:page_id"`
	ChapterID           string         `gorm:"column:chapter_id"`
	Trigger             string         `gorm:"column:trigger_type"`
	Status              string         `gorm:"column:status"`
	PreferredProvider   string         `gorm:"column:preferred_provider"`
	UsedProvider        string         `gorm:"column:used_provider"`
	Parameters          datatypes.JSON `gorm:"column:parameters"`
	PromptData          datatypes.JSON `gorm:"column:prompt_data"`
	TextSelection       datatypes.JSON `gorm:"column:text_selection"`
	SourceText          string         `gorm:"column:source_text"`
	Style               string         `gorm:"column:style"`
	Priority            int            `gorm:"column:priority"`
	RetryCount          int            `gorm:"column:retry_count"`
	Progress            int            `gorm:"column:progress"`
	ErrorMessage        string         `gorm:"column:error_message"`
	QueuePosition       int            `gorm:"column:queue_position"`
	EstimatedWaitMs     int64          `gorm:"column:estimated_wait_ms"`
	ExternalJobID       string         `gorm:"column:external_job_id"`
	ProcessingStartedAt *time.Time     `gorm:"column:processing_started_at"`
	CompletedAt         *time.Time     `gorm:"column:completed_at"`
	Version             int64          `gorm:"column:version"`
	CreatedAt           time.Time      `gorm:"column:created_at"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
	Images              []imageModel   `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

func (jobModel) TableName() string { return "visualization_jobs" }

type imageModel struct {
	ID           string    `gorm:"column:id;primaryKey;type:uuid"`
	JobID        string    `gorm:"column:job_id;type:uuid"`
	Position     int       `gorm:"column:position"`
	URL          string    `gorm:"column:url"`
	ThumbnailURL string    `gorm:"column:thumbnail_url"`
	Width        int       `gorm:"column:width"`
	Height       int       `gorm:"column:height"`
	FileSize     int64     `gorm:"column:file_size"`
	Format       string    `gorm:"column:format"`
	StoragePath  string    `gorm:"column:storage_path"`
	IsSelected   bool      `gorm:"column:is_selected"`
	IsDeleted    bool      `gorm:"column:is_deleted"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (imageModel) TableName() string { return "generated_images" }

func marshalJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func toJobModel(j *entity.VisualizationJob) (*jobModel, error) {
	params, err := marshalJSON(j.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	m := &jobModel{
		ID:                  j.ID,
		UserID:              j.UserID,
		BookID:              j.BookID,
		PageID:              j.PageID,
		ChapterID:           j.ChapterID,
		Trigger:             string(j.Trigger),
		Status:              string(j.Status),
		PreferredProvider:   string(j.PreferredProvider),
		UsedProvider:        string(j.UsedProvider),
		Parameters:          params,
		SourceText:          j.SourceText,
		Style:               j.Style,
		Priority:            j.Priority,
		RetryCount:          j.RetryCount,
		Progress:            j.Progress,
		ErrorMessage:        j.ErrorMessage,
		QueuePosition:       j.QueuePosition,
		EstimatedWaitMs:     j.EstimatedWaitTime.Milliseconds(),
		ExternalJobID:       j.ExternalJobID,
		ProcessingStartedAt: j.ProcessingStartedAt,
		CompletedAt:         j.CompletedAt,
		Version:             j.Version,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
	if j.PromptData != nil {
		if m.PromptData, err = marshalJSON(j.PromptData); err != nil {
			return nil, fmt.Errorf("marshal prompt data: %w", err)
		}
	}
	if j.TextSelection != nil {
		if m.TextSelection, err = marshalJSON(j.TextSelection); err != nil {
			return nil, fmt.Errorf("marshal text selection: %w", err)
		}
	}
	m.Images = make([]imageModel, len(j.Images))
	for i, img := range j.Images {
		m.Images[i] = imageModel{
			ID:           img.ID,
			JobID:        j.ID,
			Position:     i,
			URL:          img.Metadata.URL,
			ThumbnailURL: img.Metadata.ThumbnailURL,
			Width:        img.Metadata.Width,
			Height:       img.Metadata.Height,
			FileSize:     img.Metadata.FileSize,
			Format:       img.Metadata.Format,
			StoragePath:  img.Metadata.StoragePath,
			IsSelected:   img.IsSelected,
			IsDeleted:    img.IsDeleted,
			CreatedAt:    img.CreatedAt,
		}
	}
	return m, nil
}

// columns are the mutable job columns written by an update.
func (m *jobModel) columns() map[string]any {
	return map[string]any{
		"status":                m.Status,
		"used_provider":         m.UsedProvider,
		"parameters":            m.Parameters,
		"prompt_data":           m.PromptData,
		"text_selection":        m.TextSelection,
		"source_text":           m.SourceText,
		"style":                 m.Style,
		"priority":              m.Priority,
		"retry_count":           m.RetryCount,
		"progress":              m.Progress,
		"error_message":         m.ErrorMessage,
		"queue_position":        m.QueuePosition,
		"estimated_wait_ms":     m.EstimatedWaitMs,
		"external_job_id":       m.ExternalJobID,
		"processing_started_at": m.ProcessingStartedAt,
		"completed_at":          m.CompletedAt,
		"updated_at":            m.UpdatedAt,
		"version":               m.Version + 1,
	}
}

func (m *jobModel) toEntity() (*entity.VisualizationJob, error) {
	j := &entity.VisualizationJob{
		ID:                  m.ID,
		UserID:              m.UserID,
		BookID:              m.BookID,
		PageID:              m.PageID,
		ChapterID:           m.ChapterID,
		Trigger:             entity.Trigger(m.Trigger),
		Status:              entity.JobStatus(m.Status),
		PreferredProvider:   entity.Provider(m.PreferredProvider),
		UsedProvider:        entity.Provider(m.UsedProvider),
		SourceText:          m.SourceText,
		Style:               m.Style,
		Priority:            m.Priority,
		RetryCount:          m.RetryCount,
		Progress:            m.Progress,
		ErrorMessage:        m.ErrorMessage,
		QueuePosition:       m.QueuePosition,
		EstimatedWaitTime:   time.Duration(m.EstimatedWaitMs) * time.Millisecond,
		ExternalJobID:       m.ExternalJobID,
		ProcessingStartedAt: m.ProcessingStartedAt,
		CompletedAt:         m.CompletedAt,
		Version:             m.Version,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if len(m.Parameters) > 0 {
		if err := json.Unmarshal(m.Parameters, &j.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(m.PromptData) > 0 && string(m.PromptData) != "null" {
		j.PromptData = &entity.PromptData{}
		if err := json.Unmarshal(m.PromptData, j.PromptData); err != nil {
			return nil, fmt.Errorf("unmarshal prompt data: %w", err)
		}
	}
	if len(m.TextSelection) > 0 && string(m.TextSelection) != "null" {
		j.TextSelection = &entity.TextSelection{}
		if err := json.Unmarshal(m.TextSelection, j.TextSelection); err != nil {
			return nil, fmt.Errorf("unmarshal text selection: %w", err)
		}
	}
	j.Images = make([]*entity.GeneratedImage, len(m.Images))
	for i, img := range m.Images {
		j.Images[i] = &entity.GeneratedImage{
			ID:    img.ID,
			JobID: img.JobID,
			Metadata: entity.ImageMetadata{
				URL:          img.URL,
				ThumbnailURL: img.ThumbnailURL,
				Width:        img.Width,
				Height:       img.Height,
				FileSize:     img.FileSize,
				Format:       img.Format,
				StoragePath:  img.StoragePath,
			},
			IsSelected: img.IsSelected,
			IsDeleted:  img.IsDeleted,
			CreatedAt:  img.CreatedAt,
		}
	}
	return j, nil
}
