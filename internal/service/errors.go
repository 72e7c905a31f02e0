package service

import (
	"errors"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
)

// Outcome errors surfaced to handlers. Store faults are returned wrapped and
// never match any of these.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidScope      = model.ErrInvalidScope
	ErrEmailExists       = repository.ErrEmailExists
	ErrPasswordRequired  = errors.New("password required")
	ErrUnknownPermission = errors.New("unknown permission")
)
