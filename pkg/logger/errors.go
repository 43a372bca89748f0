package logger

import "errors"

var (
	ErrInvalidOutputPath = errors.New("logger: output path required when file output enabled")
	ErrNoOutputEnabled   = errors.New("logger: no output enabled")
)
