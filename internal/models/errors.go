package models

import "errors"

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentNotReady = errors.New("document not ready")
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrInvalidMode      = errors.New("invalid mode")
	ErrInvalidInput     = errors.New("invalid input")
	ErrGeneration       = errors.New("generation failed")
)
