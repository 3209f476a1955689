package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPing     = errors.New("invalid ping")
	ErrStaleProgress   = errors.New("progress changed since it was read")
	ErrCorruptProgress = errors.New("corrupt trip progress")
)
