package domain

import (
	"errors"
	"fmt"
)

// Error classes shared by every component. Use errors.Is to classify.
var (
	ErrTransport        = errors.New("transport error")
	ErrProviderRejected = errors.New("provider rejected request")
	ErrValidation       = errors.New("validation error")
	ErrConsistency      = errors.New("consistency violation")
	ErrModelOutput      = errors.New("model output error")
	ErrNotFound         = errors.New("not found")
)

// ProviderError is a non-2xx answer from an upstream HTTP service.
type ProviderError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

// Is classifies a rejected request as a transport failure as well.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderRejected || target == ErrTransport
}

// QAError wraps any failure of a QA request together with the failing stage.
type QAError struct {
	Stage string
	Err   error
}

func (e *QAError) Error() string {
	return fmt.Sprintf("qa %s: %v", e.Stage, e.Err)
}

func (e *QAError) Unwrap() error {
	return e.Err
}
