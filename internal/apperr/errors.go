package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrScanExhausted = errors.New("scan exhausted")
	ErrRunInProgress = errors.New("run in progress")
)
