package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrInvalidConfig   = sterrors.New("relay: invalid config")
	ErrInvalidParams   = sterrors.New("relay: invalid params")
	ErrNotBound        = sterrors.New("relay: no transport binding attached")
	ErrBindingRequired = sterrors.New("relay: transport binding is required")
	ErrConfigRequired  = sterrors.New("relay: configuration is required")
	ErrLoggerRequired  = sterrors.New("relay: logger is required")
)

// InvalidParamsError reports the resource segment whose parent parameter is
// missing. It matches ErrInvalidParams with errors.Is.
type InvalidParamsError struct {
	Resource string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("%s: param is required for resource %s", ErrInvalidParams.Error(), e.Resource)
}

func (e *InvalidParamsError) Is(target error) bool {
	return target == ErrInvalidParams
}
