package apperrors

import (
	"net/http"

	"github.com/pkg/errors"
)

// Protocol error taxonomy. Callers compare with errors.Is; wrapped errors keep their kind.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("challenge expired")
	ErrAlreadyConsumed   = errors.New("challenge already consumed")
	ErrChallengeMismatch = errors.New("challenge mismatch")
	ErrMalformedInput    = errors.New("malformed input")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrAddressMismatch   = errors.New("wallet address does not match public key")
	ErrNotVerified       = errors.New("challenge has not been verified")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("service unavailable")
)

// Reason codes reported to callers.
const (
	ReasonInvalidArgument   = "invalid_argument"
	ReasonNotFound          = "not_found"
	ReasonExpired           = "expired"
	ReasonAlreadyConsumed   = "already_consumed"
	ReasonChallengeMismatch = "challenge_mismatch"
	ReasonMalformedInput    = "malformed_input"
	ReasonInvalidSignature  = "invalid_signature"
	ReasonAddressMismatch   = "address_mismatch"
	ReasonNotVerified       = "not_verified"
	ReasonConflict          = "conflict"
	ReasonUnavailable       = "unavailable"
	ReasonInternal          = "internal"
)

type kind struct {
	err    error
	reason string
	status int
}

// Order matters only for errors that wrap more than one kind, which we never build.
var kinds = []kind{
	{ErrInvalidArgument, ReasonInvalidArgument, http.StatusBadRequest},
	{ErrNotFound, ReasonNotFound, http.StatusNotFound},
	{ErrExpired, ReasonExpired, http.StatusGone},
	{ErrAlreadyConsumed, ReasonAlreadyConsumed, http.StatusConflict},
	{ErrChallengeMismatch, ReasonChallengeMismatch, http.StatusUnprocessableEntity},
	{ErrMalformedInput, ReasonMalformedInput, http.StatusBadRequest},
	{ErrInvalidSignature, ReasonInvalidSignature, http.StatusUnauthorized},
	{ErrAddressMismatch, ReasonAddressMismatch, http.StatusUnprocessableEntity},
	{ErrNotVerified, ReasonNotVerified, http.StatusPreconditionFailed},
	{ErrConflict, ReasonConflict, http.StatusConflict},
	{ErrUnavailable, ReasonUnavailable, http.StatusServiceUnavailable},
}

// Reason returns the stable reason code for err, or "internal" for errors outside the taxonomy.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.reason
		}
	}
	return ReasonInternal
}

// HTTPStatus maps err to the status code the HTTP surface answers with.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// FromReason is the inverse of Reason. Unknown codes yield nil.
func FromReason(reason string) error {
	for _, k := range kinds {
		if k.reason == reason {
			return k.err
		}
	}
	return nil
}

// AppError carries an error across a transport boundary together with its status and code.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// New builds an AppError from a taxonomy error.
func New(err error, message string) *AppError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &AppError{
		StatusCode: HTTPStatus(err),
		Code:       Reason(err),
		Message:    message,
		Err:        err,
	}
}

// Unavailable wraps a storage or collaborator failure so that it reports as ErrUnavailable
// while keeping the cause in the message.
func Unavailable(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return errors.Wrapf(ErrUnavailable, "%s: %v", msg, cause)
}
