// Package common holds the error taxonomy shared by the storage, auth and
// service layers. Handlers translate these sentinels into HTTP responses.
package common

import "errors"

var (
	// repository specific errors
	ErrNotFound       = errors.New("not found")
	ErrMultipleRows   = errors.New("more than one row matched")
	ErrDuplicateEmail = errors.New("email already exists")

	// service specific errors
	ErrInvalidCredentials   = errors.New("incorrect email or password")
	ErrIncorrectOldPassword = errors.New("incorrect old password")
	ErrPaymentProvider      = errors.New("payment provider error")
	ErrPersistence          = errors.New("persistence error")
	ErrTimeout              = errors.New("operation timed out")

	// credential specific errors
	ErrInvalidHashFormat = errors.New("invalid hash format")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
)
