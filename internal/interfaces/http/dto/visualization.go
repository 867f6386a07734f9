package dto

import (
	"time"

	"bookviz-api/internal/application/visualization"
	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/infrastructure/provider"
)

// CreateVisualizationRequest is the body of POST /v1/visualizations.
type CreateVisualizationRequest struct {
	BookID        string                      `json:"book_id" binding:"required"`
	PageID        string                      `json:"page_id,omitempty"`
	ChapterID     string                      `json:"chapter_id,omitempty"`
	Trigger       string                      `json:"trigger" binding:"required"`
	Provider      string                      `json:"provider,omitempty"`
	Parameters    entity.GenerationParameters `json:"parameters"`
	TextSelection *TextSelectionRequest       `json:"text_selection,omitempty"`
	SourceText    string                      `json:"source_text,omitempty"`
	Style         string                      `json:"style,omitempty"`
	Priority      *int                        `json:"priority,omitempty"`
}

type TextSelectionRequest struct {
	Text          string `json:"text"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// ToCommand builds the create command for userID.
func (r *CreateVisualizationRequest) ToCommand(userID string) visualization.CreateJobCommand {
	cmd := visualization.CreateJobCommand{
		UserID:     userID,
		BookID:     r.BookID,
		PageID:     r.PageID,
		ChapterID:  r.ChapterID,
		Trigger:    r.Trigger,
		Provider:   r.Provider,
		Parameters: r.Parameters,
		SourceText: r.SourceText,
		Style:      r.Style,
		Priority:   r.Priority,
	}
	if ts := r.TextSelection; ts != nil {
		cmd.TextSelection = &entity.TextSelection{
			Text:          ts.Text,
			StartOffset:   ts.StartOffset,
			EndOffset:     ts.EndOffset,
			ContextBefore: ts.ContextBefore,
			ContextAfter:  ts.ContextAfter,
		}
	}
	return cmd
}

type CancelVisualizationRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ImageResponse struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	FileSize     int64     `json:"file_size"`
	Format       string    `json:"format"`
	IsSelected   bool      `json:"is_selected"`
	CreatedAt    time.Time `json:"created_at"`
}

type PromptResponse struct {
	OriginalText   string `json:"original_text"`
	EnhancedPrompt string `json:"enhanced_prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	TargetModel    string `json:"target_model"`
	Style          string `json:"style,omitempty"`
}

// VisualizationResponse is the client view of a job. Soft-deleted images and
// internal handles are omitted.
type VisualizationResponse struct {
	ID                   string                      `json:"id"`
	BookID               string                      `json:"book_id"`
	PageID               string                      `json:"page_id,omitempty"`
	ChapterID            string                      `json:"chapter_id,omitempty"`
	Trigger              entity.Trigger              `json:"trigger"`
	Status               entity.JobStatus            `json:"status"`
	PreferredProvider    entity.Provider             `json:"preferred_provider"`
	UsedProvider         entity.Provider             `json:"used_provider,omitempty"`
	Parameters           entity.GenerationParameters `json:"parameters"`
	Prompt               *PromptResponse             `json:"prompt,omitempty"`
	TextSelection        *entity.TextSelection       `json:"text_selection,omitempty"`
	Priority             int                         `json:"priority"`
	RetryCount           int                         `json:"retry_count"`
	Progress             int                         `json:"progress"`
	ErrorMessage         string                      `json:"error_message,omitempty"`
	QueuePosition        int                         `json:"queue_position"`
	EstimatedWaitSeconds int64                       `json:"estimated_wait_seconds"`
	Images               []ImageResponse             `json:"images"`
	ProcessingStartedAt  *time.Time                  `json:"processing_started_at,omitempty"`
	CompletedAt          *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
}

func ToVisualizationResponse(job *entity.VisualizationJob) *VisualizationResponse {
	if job == nil {
		return nil
	}
	resp := &VisualizationResponse{
		ID:                   job.ID,
		BookID:               job.BookID,
		PageID:               job.PageID,
		ChapterID:            job.ChapterID,
		Trigger:              job.Trigger,
		Status:               job.Status,
		PreferredProvider:    job.PreferredProvider,
		UsedProvider:         job.UsedProvider,
		Parameters:           job.Parameters,
		TextSelection:        job.TextSelection,
		Priority:             job.Priority,
		RetryCount:           job.RetryCount,
		Progress:             job.Progress,
		ErrorMessage:         job.ErrorMessage,
		QueuePosition:        job.QueuePosition,
		EstimatedWaitSeconds: int64(job.EstimatedWaitTime.Seconds()),
		ProcessingStartedAt:  job.ProcessingStartedAt,
		CompletedAt:          job.CompletedAt,
		CreatedAt:            job.CreatedAt,
		UpdatedAt:            job.UpdatedAt,
	}
	if pd := job.PromptData; pd != nil {
		resp.Prompt = &PromptResponse{
			OriginalText:   pd.OriginalText,
			EnhancedPrompt: pd.EnhancedPrompt,
			NegativePrompt: pd.NegativePrompt,
			TargetModel:    pd.TargetModel,
			Style:          pd.Style,
		}
	}
	active := job.ActiveImages()
	resp.Images = make([]ImageResponse, 0, len(active))
	for _, img := range active {
		resp.Images = append(resp.Images, ImageResponse{
			ID:           img.ID,
			URL:          img.Metadata.URL,
			ThumbnailURL: img.Metadata.ThumbnailURL,
			Width:        img.Metadata.Width,
			Height:       img.Metadata.Height,
			FileSize:     img.Metadata.FileSize,
			Format:       img.Metadata.Format,
			IsSelected:   img.IsSelected,
			CreatedAt:    img.CreatedAt,
		})
	}
	return resp
}

func ToVisualizationList(jobs []*entity.VisualizationJob) []*VisualizationResponse {
	out := make([]*VisualizationResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToVisualizationResponse(j))
	}
	return out
}

// CreateVisualizationResponse is returned by create and retry.
type CreateVisualizationResponse struct {
	Job                  *VisualizationResponse `json:"job"`
	QueuePosition        int                    `json:"queue_position"`
	EstimatedWaitSeconds int64                  `json:"estimated_wait_seconds"`
}

func ToCreateVisualizationResponse(res *visualization.CreateJobResult) *CreateVisualizationResponse {
	return &CreateVisualizationResponse{
		Job:                  ToVisualizationResponse(res.Job),
		QueuePosition:        res.QueuePosition,
		EstimatedWaitSeconds: int64(res.EstimatedWait.Seconds()),
	}
}

type QueuePositionResponse struct {
	JobID                string           `json:"job_id"`
	Status               entity.JobStatus `json:"status"`
	Position             int              `json:"position"`
	EstimatedWaitSeconds int64            `json:"estimated_wait_seconds"`
}

func ToQueuePositionResponse(p *visualization.QueuePlacement) *QueuePositionResponse {
	return &QueuePositionResponse{
		JobID:                p.JobID,
		Status:               p.Status,
		Position:             p.Position,
		EstimatedWaitSeconds: int64(p.EstimatedWait.Seconds()),
	}
}

type QueueStatusResponse struct {
	QueueLength               int   `json:"queue_length"`
	ProcessingCount           int   `json:"processing_count"`
	AverageProcessingSeconds  int64 `json:"average_processing_seconds"`
	EstimatedDrainTimeSeconds int64 `json:"estimated_drain_time_seconds"`
}

func ToQueueStatusResponse(s entity.QueueStatus) *QueueStatusResponse {
	return &QueueStatusResponse{
		QueueLength:               s.QueueLength,
		ProcessingCount:           s.ProcessingCount,
		AverageProcessingSeconds:  int64(s.AverageProcessingTime.Seconds()),
		EstimatedDrainTimeSeconds: int64(s.EstimatedDrainTime.Seconds()),
	}
}

type ProviderResponse struct {
	Provider        entity.Provider `json:"provider"`
	DisplayName     string          `json:"display_name"`
	Implemented     bool            `json:"implemented"`
	Available       bool            `json:"available"`
	Synchronous     bool            `json:"synchronous"`
	MaxPromptLength int             `json:"max_prompt_length"`
	Sizes           []string        `json:"sizes"`
}

func ToProviderList(infos []provider.Info) []ProviderResponse {
	out := make([]ProviderResponse, 0, len(infos))
	for _, info := range infos {
		sizes := make([]string, 0, len(info.Sizes))
		for _, s := range info.Sizes {
			sizes = append(sizes, s.String())
		}
		out = append(out, ProviderResponse{
			Provider:        info.Provider,
			DisplayName:     info.DisplayName,
			Implemented:     info.Implemented,
			Available:       info.Available,
			Synchronous:     info.Synchronous,
			MaxPromptLength: info.MaxPromptLength,
			Sizes:           sizes,
		})
	}
	return out
}
