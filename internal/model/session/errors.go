package session

import "errors"

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
	ErrValidation    = errors.New("validation failed")
	ErrExpired       = errors.New("session expired")
	ErrStorage       = errors.New("storage failure")
)
