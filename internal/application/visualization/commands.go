package visualization

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
	apperrors "bookviz-api/pkg/errors"
)

// CreateJobCommand requests a new visualization.
type CreateJobCommand struct {
	UserID        string                      `validate:"required,max=64"`
	BookID        string                      `validate:"required,max=64"`
	PageID        string                      `validate:"omitempty,max=64"`
	ChapterID     string                      `validate:"omitempty,max=64"`
	Trigger       string                      `validate:"required"`
	Provider      string                      `validate:"omitempty"`
	Parameters    entity.GenerationParameters `validate:"-"`
	TextSelection *entity.TextSelection       `validate:"omitempty"`
	SourceText    string                      `validate:"omitempty,max=20000"`
	Style         string                      `validate:"omitempty,max=200"`
	// Priority overrides the trigger's default priority.
	Priority *int `validate:"omitempty,min=0,max=100"`
}

// CreateJobResult carries the job with its initial queue placement.
type CreateJobResult struct {
	Job           *entity.VisualizationJob
	QueuePosition int
	EstimatedWait time.Duration
}

// ListJobsQuery lists a user's jobs.
type ListJobsQuery struct {
	UserID     string
	BookID     string
	PageID     string
	ChapterID  string
	Statuses   []entity.JobStatus
	Pagination repository.Pagination
}

// QueuePlacement is the live queue position of one job.
type QueuePlacement struct {
	JobID         string
	Status        entity.JobStatus
	Position      int
	EstimatedWait time.Duration
}

// newValidator returns a validator knowing the "aspect_ratio" tag.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("aspect_ratio", func(fl validator.FieldLevel) bool {
		return entity.ParseAspectRatio(fl.Field().String()) > 0
	})
	return v
}

// validateCreate checks cmd and resolves its trigger and provider.
func validateCreate(v *validator.Validate, cmd CreateJobCommand, defaultProvider entity.Provider) (entity.Trigger, entity.Provider, error) {
	if err := v.Struct(cmd); err != nil {
		return "", "", validationError(err)
	}
	if err := v.Struct(cmd.Parameters); err != nil {
		return "", "", validationError(err)
	}

	trigger, err := entity.ParseTrigger(cmd.Trigger)
	if err != nil {
		return "", "", apperrors.ErrValidationFailed.WithDetail(err.Error())
	}

	p := defaultProvider
	if strings.TrimSpace(cmd.Provider) != "" {
		if p, err = entity.ParseProvider(cmd.Provider); err != nil {
			return "", "", apperrors.ErrValidationFailed.WithDetail(err.Error())
		}
	}

	if trigger == entity.TriggerTextSelection {
		if cmd.TextSelection == nil || strings.TrimSpace(cmd.TextSelection.Text) == "" {
			return "", "", apperrors.ErrValidationFailed.WithDetail("text_selection is required for TextSelection jobs")
		}
	} else if cmd.TextSelection != nil {
		return "", "", apperrors.ErrValidationFailed.WithDetail("text_selection is only allowed for TextSelection jobs")
	}
	return trigger, p, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.ErrValidationFailed.WithError(err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	return apperrors.ErrValidationFailed.WithError(err).WithDetail(strings.Join(fields, "; "))
}
