package visualization

import (
	"context"
	"errors"
	"fmt"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
	"bookviz-api/internal/infrastructure/llm"
	"bookviz-api/internal/infrastructure/provider"
	apperrors "bookviz-api/pkg/errors"
)

// FailureKind classifies why processing stopped.
type FailureKind string

const (
	FailurePrompt      FailureKind = "prompt"
	FailureProvider    FailureKind = "provider"
	FailureUpload      FailureKind = "upload"
	FailureSource      FailureKind = "source"
	FailureInterrupted FailureKind = "interrupted"
	FailureInternal    FailureKind = "internal"
)

// Failure is a processing failure. Transient failures may be retried
// automatically; permanent ones wait for an explicit retry.
type Failure struct {
	Kind      FailureKind
	Provider  entity.Provider
	Transient bool
	Err       error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailurePrompt:
		return fmt.Sprintf("prompt generation failed: %v", f.Err)
	case FailureProvider:
		if f.Provider != "" {
			return fmt.Sprintf("provider %s failed: %v", f.Provider, f.Err)
		}
		return fmt.Sprintf("provider failed: %v", f.Err)
	case FailureUpload:
		return fmt.Sprintf("image upload failed: %v", f.Err)
	case FailureSource:
		return fmt.Sprintf("no source text: %v", f.Err)
	case FailureInterrupted:
		return "processing interrupted"
	default:
		return fmt.Sprintf("processing failed: %v", f.Err)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func promptFailure(err error) *Failure {
	return &Failure{
		Kind:      FailurePrompt,
		Transient: errors.Is(err, context.DeadlineExceeded) || (!errors.Is(err, llm.ErrEmptyPrompt) && provider.IsTransient(err)),
		Err:       err,
	}
}

func providerFailure(p entity.Provider, err error) *Failure {
	return &Failure{Kind: FailureProvider, Provider: p, Transient: provider.IsTransient(err), Err: err}
}

func uploadFailure(err error) *Failure {
	return &Failure{Kind: FailureUpload, Transient: true, Err: err}
}

// IsTransientFailure reports whether err is a Failure worth retrying
// automatically.
func IsTransientFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient
}

// toAppError maps domain and infrastructure errors onto API errors.
func toAppError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}

	var te *entity.InvalidTransitionError
	var f *Failure
	switch {
	case errors.As(err, &te):
		return apperrors.Wrap(err, apperrors.CodeInvalidTransition, "invalid job status transition").
			WithDetail(fmt.Sprintf("job is %s and cannot move to %s", te.From, te.To))
	case errors.Is(err, entity.ErrMaxRetriesExceeded):
		return apperrors.ErrMaxRetriesExceeded.WithError(err)
	case errors.Is(err, entity.ErrImageNotFound):
		return apperrors.ErrImageNotFound.WithError(err)
	case errors.Is(err, entity.ErrNoSelectableImage), errors.Is(err, entity.ErrNotTerminal):
		return apperrors.ErrValidationFailed.WithError(err).WithDetail(err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		return apperrors.ErrConflict.WithError(err)
	case errors.As(err, &f):
		if f.Kind == FailurePrompt {
			return apperrors.Wrap(err, apperrors.CodePromptGenerationFailed, "prompt generation failed")
		}
		return apperrors.Wrap(err, apperrors.CodeProviderFailure, "image generation failed")
	case errors.Is(err, provider.ErrNotImplemented):
		return apperrors.Wrap(err, apperrors.CodeNotImplemented, "provider not implemented")
	default:
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "job store error")
	}
}
