package model

import (
	"errors"
)

var (
	ErrJobNotFound  = errors.New("unknown job id")
	ErrJobExists    = errors.New("job id already exists")
	ErrUnknownTool  = errors.New("unknown tool")
	ErrMissingToken = errors.New("token is required")
)
