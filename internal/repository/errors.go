package repository

import "errors"

var (
	ErrAccountExists = errors.New("account already exists")
	ErrInvalidFilter = errors.New("filter must set an id or an email")
)
