package model

import (
	"errors"
)

var (
	ErrJobInProgress     = errors.New("verification already in progress")
	ErrUploadInProgress  = errors.New("upload already in progress")
	ErrNothingToUpload   = errors.New("no recognized file matches a known record")
	ErrStatusInFlight    = errors.New("status request already in flight")
	ErrNoCredential      = errors.New("no credential available")
	ErrCredentialExpired = errors.New("credential expired")
	ErrUnknownStatus     = errors.New("unknown status")
)
