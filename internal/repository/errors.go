package repository

import "errors"

var (
	ErrNotProcessing = errors.New("no rows affected; entry is no longer processing")
	ErrTokenChanged  = errors.New("no rows affected; token was replaced concurrently")
)
