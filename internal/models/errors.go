package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDispatch         = errors.New("dispatch failed")
	ErrTimeout          = errors.New("remote job timed out")
	ErrMalformedResult  = errors.New("malformed result")
	ErrRemote           = errors.New("remote worker error")
	ErrTransform        = errors.New("transform failed")
	ErrStorage          = errors.New("storage failed")
	ErrMetadata         = errors.New("metadata registration failed")
	ErrCapacityExceeded = errors.New("too many remote jobs")
	ErrUnknownJob       = errors.New("unknown job")
	ErrInvalidUpload    = errors.New("invalid upload")
	ErrRecordNotFound   = errors.New("file record not found")
)

// CapacityError rejects a submission under backpressure and suggests when to retry.
type CapacityError struct {
	Active     int
	Limit      int
	RetryAfter time.Duration
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d active (limit %d), retry after %s", ErrCapacityExceeded, e.Active, e.Limit, e.RetryAfter)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}
