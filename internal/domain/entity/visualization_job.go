package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotCompleted is returned when selecting an image before completion.
var ErrJobNotCompleted = fmt.Errorf("%w: job is not completed", ErrNoSelectableImage)

// VisualizationJob is one request to illustrate a page, chapter or selection.
// All state changes go through its methods; a rejected change leaves the job
// untouched.
type VisualizationJob struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	BookID    string `json:"book_id"`
	PageID    string `json:"page_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`

	Trigger           Trigger              `json:"trigger"`
	Status            JobStatus            `json:"status"`
	PreferredProvider Provider             `json:"preferred_provider"`
	UsedProvider      Provider             `json:"used_provider,omitempty"`
	Parameters        GenerationParameters `json:"parameters"`
	PromptData        *PromptData          `json:"prompt_data,omitempty"`
	TextSelection     *TextSelection       `json:"text_selection,omitempty"`
	SourceText        string               `json:"source_text,omitempty"`
	Style             string               `json:"style,omitempty"`

	Priority     int    `json:"priority"`
	RetryCount   int    `json:"retry_count"`
	Progress     int    `json:"progress"`
	ErrorMessage string `json:"error_message,omitempty"`

	QueuePosition     int           `json:"queue_position"`
	EstimatedWaitTime time.Duration `json:"estimated_wait_time"`
	ExternalJobID     string        `json:"external_job_id,omitempty"`

	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`

	Images []*GeneratedImage `json:"images"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewVisualizationJob creates a Pending job with the trigger's default priority.
func NewVisualizationJob(userID, bookID string, trigger Trigger, provider Provider) *VisualizationJob {
	now := time.Now().UTC()
	return &VisualizationJob{
		ID:                uuid.NewString(),
		UserID:            userID,
		BookID:            bookID,
		Trigger:           trigger,
		Status:            JobStatusPending,
		PreferredProvider: provider,
		Priority:          trigger.DefaultPriority(),
		Images:            []*GeneratedImage{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// transition moves the job to `to` if the table allows it and keeps
// completedAt in step with terminality.
func (j *VisualizationJob) transition(to JobStatus) error {
	if !j.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{From: j.Status, To: to}
	}
	now := time.Now().UTC()
	j.Status = to
	j.Progress = to.Progress()
	j.UpdatedAt = now
	if to.IsTerminal() {
		j.CompletedAt = &now
	} else {
		j.CompletedAt = nil
	}
	return nil
}

// IsOwnedBy reports whether userID owns the job.
func (j *VisualizationJob) IsOwnedBy(userID string) bool {
	return userID != "" && j.UserID == userID
}

// MarkQueued moves a Pending job into the queue.
func (j *VisualizationJob) MarkQueued(position int, wait time.Duration) error {
	if err := j.transition(JobStatusQueued); err != nil {
		return err
	}
	j.SetQueuePlacement(position, wait)
	return nil
}

// SetQueuePlacement records the advisory queue position and wait estimate.
func (j *VisualizationJob) SetQueuePlacement(position int, wait time.Duration) {
	if position < 0 {
		position = 0
	}
	j.QueuePosition = position
	j.EstimatedWaitTime = wait
}

// Claim is performed by the worker that dequeued the job.
func (j *VisualizationJob) Claim() error {
	if err := j.transition(JobStatusGeneratingPrompt); err != nil {
		return err
	}
	if j.ProcessingStartedAt == nil {
		started := j.UpdatedAt
		j.ProcessingStartedAt = &started
	}
	j.SetQueuePlacement(0, 0)
	return nil
}

// SetPrompt stores the enhanced prompt and advances to Processing.
func (j *VisualizationJob) SetPrompt(pd PromptData) error {
	if strings.TrimSpace(pd.EnhancedPrompt) == "" {
		return fmt.Errorf("enhanced prompt is empty")
	}
	if err := j.transition(JobStatusProcessing); err != nil {
		return err
	}
	j.PromptData = &pd
	return nil
}

// SetExternalJob records the provider handle of the in-flight generation.
func (j *VisualizationJob) SetExternalJob(provider Provider, externalID string) error {
	if j.Status != JobStatusProcessing {
		return &InvalidTransitionError{From: j.Status, To: JobStatusProcessing}
	}
	j.UsedProvider = provider
	j.ExternalJobID = externalID
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateProgress clamps p into the range owned by the current status.
func (j *VisualizationJob) UpdateProgress(p int) {
	if j.Status.IsTerminal() {
		return
	}
	if p < j.Status.Progress() {
		p = j.Status.Progress()
	}
	if p > 99 {
		p = 99
	}
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
}

// BeginUpload is performed once the provider reports a usable image.
func (j *VisualizationJob) BeginUpload() error {
	return j.transition(JobStatusUploading)
}

// AddImage attaches a stored image. Only legal while Uploading.
func (j *VisualizationJob) AddImage(meta ImageMetadata) (*GeneratedImage, error) {
	if j.Status != JobStatusUploading {
		return nil, &InvalidTransitionError{From: j.Status, To: JobStatusUploading}
	}
	img := newGeneratedImage(j.ID, meta)
	j.Images = append(j.Images, img)
	j.UpdatedAt = img.CreatedAt
	return img, nil
}

// Complete finishes the job. At least one image must be attached.
func (j *VisualizationJob) Complete() error {
	if j.Status == JobStatusUploading && len(j.ActiveImages()) == 0 {
		return fmt.Errorf("cannot complete job %s without images", j.ID)
	}
	return j.transition(JobStatusCompleted)
}

// Fail moves a non-terminal job to Failed with reason.
func (j *VisualizationJob) Fail(reason string) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "generation failed"
	}
	j.ErrorMessage = reason
	return nil
}

// Cancel moves a non-terminal job to Cancelled and records the reason.
func (j *VisualizationJob) Cancel(reason string) error {
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by user"
	}
	j.ErrorMessage = reason
	j.SetQueuePlacement(0, 0)
	return nil
}

// CanCancel is true for every non-terminal status.
func (j *VisualizationJob) CanCancel() bool {
	return !j.Status.IsTerminal()
}

// CanRetry is true only for Failed jobs below the retry ceiling.
func (j *VisualizationJob) CanRetry(maxRetries int) bool {
	return j.Status == JobStatusFailed && j.RetryCount < maxRetries
}

// Retry re-enters the queue: Failed -> Queued with one more retry consumed,
// the error cleared and the priority raised by boost.
func (j *VisualizationJob) Retry(maxRetries, boost int) error {
	if j.Status != JobStatusFailed {
		return &InvalidTransitionError{From: j.Status, To: JobStatusQueued}
	}
	if j.RetryCount >= maxRetries {
		return ErrMaxRetriesExceeded
	}
	if err := j.transition(JobStatusQueued); err != nil {
		return err
	}
	j.RetryCount++
	j.ErrorMessage = ""
	j.Priority += boost
	j.PromptData = nil
	j.ExternalJobID = ""
	j.UsedProvider = ""
	return nil
}

// UndoRetry returns a job that was retried but never reached the queue to
// Failed, giving back the retry slot and the priority boost.
func (j *VisualizationJob) UndoRetry(boost int, reason string) error {
	if j.Status != JobStatusQueued || j.RetryCount == 0 {
		return &InvalidTransitionError{From: j.Status, To: JobStatusFailed}
	}
	if err := j.Fail(reason); err != nil {
		return err
	}
	j.RetryCount--
	j.Priority -= boost
	return nil
}

// SelectImage marks imageID as the chosen illustration. Selecting the image
// that is already selected reports changed=false.
func (j *VisualizationJob) SelectImage(imageID string) (changed bool, err error) {
	if j.Status != JobStatusCompleted {
		return false, ErrJobNotCompleted
	}
	if len(j.ActiveImages()) == 0 {
		return false, ErrNoSelectableImage
	}
	target := j.findImage(imageID)
	if target == nil || target.IsDeleted {
		return false, ErrImageNotFound
	}
	if target.IsSelected {
		return false, nil
	}
	for _, img := range j.Images {
		img.IsSelected = img == target
	}
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DeleteImage soft-deletes imageID and reports whether it was the selection.
func (j *VisualizationJob) DeleteImage(imageID string) (wasSelected bool, err error) {
	img := j.findImage(imageID)
	if img == nil || img.IsDeleted {
		return false, ErrImageNotFound
	}
	wasSelected = img.IsSelected
	img.IsDeleted = true
	img.IsSelected = false
	j.UpdatedAt = time.Now().UTC()
	return wasSelected, nil
}

// SelectedImage returns the selected image, or nil.
func (j *VisualizationJob) SelectedImage() *GeneratedImage {
	for _, img := range j.Images {
		if img.IsSelected && !img.IsDeleted {
			return img
		}
	}
	return nil
}

// ActiveImages returns the images that are not soft-deleted.
func (j *VisualizationJob) ActiveImages() []*GeneratedImage {
	out := make([]*GeneratedImage, 0, len(j.Images))
	for _, img := range j.Images {
		if !img.IsDeleted {
			out = append(out, img)
		}
	}
	return out
}

// ProcessingDuration is the time between the first claim and completion.
func (j *VisualizationJob) ProcessingDuration() time.Duration {
	if j.ProcessingStartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.ProcessingStartedAt)
}

// Clone returns a deep copy.
func (j *VisualizationJob) Clone() *VisualizationJob {
	if j == nil {
		return nil
	}
	cp := *j
	if j.PromptData != nil {
		pd := *j.PromptData
		if j.PromptData.Parameters != nil {
			pd.Parameters = make(map[string]any, len(j.PromptData.Parameters))
			for k, v := range j.PromptData.Parameters {
				pd.Parameters[k] = v
			}
		}
		cp.PromptData = &pd
	}
	if j.TextSelection != nil {
		ts := *j.TextSelection
		cp.TextSelection = &ts
	}
	cp.ProcessingStartedAt = cloneTime(j.ProcessingStartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.Parameters = j.Parameters.clone()
	cp.Images = make([]*GeneratedImage, len(j.Images))
	for i, img := range j.Images {
		c := *img
		cp.Images[i] = &c
	}
	return &cp
}

func (p GenerationParameters) clone() GenerationParameters {
	cp := p
	if p.Seed != nil {
		v := *p.Seed
		cp.Seed = &v
	}
	if p.Steps != nil {
		v := *p.Steps
		cp.Steps = &v
	}
	if p.CfgScale != nil {
		v := *p.CfgScale
		cp.CfgScale = &v
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (j *VisualizationJob) findImage(id string) *GeneratedImage {
	for _, img := range j.Images {
		if img.ID == id {
			return img
		}
	}
	return nil
}
