package models

import "errors"

// Run state errors.
var (
	ErrInvalidRunState   = errors.New("invalid run state")
	ErrInvalidTransition = errors.New("invalid run state transition")
)

// Table reference errors.
var (
	ErrSchemaRequired = errors.New("schema is required")
	ErrTableRequired  = errors.New("table name is required")
)
