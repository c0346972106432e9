package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCorrupt   = errors.New("session file is corrupt")
	ErrSessionIO        = errors.New("session file i/o failed")
	ErrOpenFailure      = errors.New("open resource failed")
	ErrStateKeyNotFound = errors.New("installation state key not found")
)
