package worker

import (
	"context"
	"errors"

	"ingest-pipeline/internal/entity"
)

// Processor is the content/embedding collaborator, invoked once per claimed
// job. The pipeline does not interpret a failure beyond its fetch-vs-
// processing class.
type Processor interface {
	Process(ctx context.Context, job entity.Job) error
}

// ClassifiedError tags a collaborator failure with its coarse class.
type ClassifiedError struct {
	Class entity.ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

func FetchError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: entity.ErrorClassFetch, Err: err}
}

func ProcessingError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: entity.ErrorClassProcessing, Err: err}
}

// Classify returns the error class tag for err, defaulting to processing for
// untagged errors.
func Classify(err error) entity.ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return entity.ErrorClassProcessing
}
