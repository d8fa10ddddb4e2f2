package receiver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"uploadq/internal/logging"
	"uploadq/internal/transport"
)

var (
	// ErrNotFound reports a stored file that does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrExists reports a rename target that is already taken.
	ErrExists = errors.New("file already exists")
	// ErrInvalidName reports a file name that cannot be stored.
	ErrInvalidName = errors.New("invalid file name")
	// ErrInsufficientSpace reports that accepting a body would leave less
	// than the configured free space.
	ErrInsufficientSpace = errors.New("insufficient free space")
	// ErrPartMismatch reports a part whose headers disagree with earlier
	// parts of the same file id.
	ErrPartMismatch = errors.New("part does not match upload")
	// ErrIncompleteUpload reports a final part that arrived while earlier
	// parts of the same file id are not staged.
	ErrIncompleteUpload = errors.New("upload is missing parts")
)

// MissingPartsError is returned by SavePart when the final part of a file id
// cannot complete the upload.
type MissingPartsError struct {
	FileID  string
	Missing []int
}

func (e *MissingPartsError) Error() string {
	return fmt.Sprintf("%s: %s lacks parts %v", ErrIncompleteUpload, e.FileID, e.Missing)
}

func (e *MissingPartsError) Unwrap() error { return ErrIncompleteUpload }

// APIError is the JSON body of every failed request. Success is always
// false so upload clients read it as an unsuccessful response.
type APIError struct {
	Status  int    `json:"-"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// MissingParts is set on INCOMPLETE_UPLOAD errors.
	MissingParts []int `json:"missingParts,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string, cause error) *APIError {
	err := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewBadRequestError creates a 400 error.
func NewBadRequestError(message string, cause error) *APIError {
	return newAPIError(http.StatusBadRequest, "BAD_REQUEST", message, cause)
}

// NewValidationError creates a 400 error for a missing or malformed field.
func NewValidationError(field string) *APIError {
	return newAPIError(http.StatusBadRequest, "VALIDATION_ERROR", "validation failed for field: "+field, nil)
}

// NewConflictError creates a 409 error.
func NewConflictError(message string, cause error) *APIError {
	return newAPIError(http.StatusConflict, "CONFLICT", message, cause)
}

// NewIncompleteUploadError creates a 409 error that tells the client which
// parts the receiver lacks.
func NewIncompleteUploadError(cause *MissingPartsError) *APIError {
	err := newAPIError(http.StatusConflict, transport.CodeIncompleteUpload, "upload is missing earlier parts", cause)
	err.MissingParts = cause.Missing
	return err
}

// NewInsufficientStorageError creates a 507 error.
func NewInsufficientStorageError(cause error) *APIError {
	return newAPIError(http.StatusInsufficientStorage, "INSUFFICIENT_STORAGE", "not enough free space", cause)
}

// NewInternalError creates a 500 error.
func NewInternalError(message string, cause error) *APIError {
	return newAPIError(http.StatusInternalServerError, "INTERNAL_ERROR", message, cause)
}

// storageError maps storage failures onto API errors.
func storageError(message string, err error) *APIError {
	var missing *MissingPartsError
	switch {
	case errors.As(err, &missing):
		return NewIncompleteUploadError(missing)
	case errors.Is(err, ErrInvalidName):
		return NewBadRequestError(message, err)
	case errors.Is(err, ErrPartMismatch):
		return NewConflictError(message, err)
	case errors.Is(err, ErrInsufficientSpace):
		return NewInsufficientStorageError(err)
	default:
		return NewInternalError(message, err)
	}
}

// errorHandler renders any handler error as an APIError body.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var apiErr *APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{Status: httpErr.Code, Code: "HTTP_ERROR", Message: fmt.Sprintf("%v", httpErr.Message)}
		default:
			apiErr = NewInternalError("unexpected error", err)
		}
		if apiErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed",
				logging.String("path", c.Path()),
				logging.String("code", apiErr.Code),
				logging.Error(err),
			)
		}
		if err := c.JSON(apiErr.Status, apiErr); err != nil {
			logger.Debug("write error response", logging.Error(err))
		}
	}
}
