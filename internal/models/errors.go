package models

import "errors"

// Errors shared by the state stores, the clip generator and the orchestrator.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
