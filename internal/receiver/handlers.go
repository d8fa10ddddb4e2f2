package receiver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"uploadq/internal/logging"
	"uploadq/internal/transport"
)

// Handlers serves the upload endpoint and the stored file operations.
type Handlers struct {
	store   *Store
	logger  *slog.Logger
	version string
}

// NewHandlers returns handlers backed by store.
func NewHandlers(store *Store, version string, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:   store,
		logger:  logging.NewComponentLogger(logger, "receiver"),
		version: version,
	}
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	FileName string `json:"fileName"`
	Complete bool   `json:"complete"`
	Received int    `json:"received,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type listResponse struct {
	Success bool       `json:"success"`
	Items   []FileInfo `json:"items"`
}

type renameRequest struct {
	FileName string `json:"fileName" form:"fileName"`
	NewName  string `json:"newName" form:"newName"`
}

type renameResponse struct {
	Success      bool   `json:"success"`
	NewFileName  string `json:"newFileName,omitempty"`
	FileNotFound bool   `json:"fileNotFound,omitempty"`
}

type deleteRequest struct {
	FileName string `json:"fileName" form:"fileName"`
}

type deleteResponse struct {
	Success      bool `json:"success"`
	FileNotFound bool `json:"fileNotFound,omitempty"`
}

// HandleUpload accepts a whole file as multipart field "file", or one part
// of a chunked upload as the raw request body when X-File-ID is present.
func (h *Handlers) HandleUpload(c echo.Context) error {
	if c.Request().Header.Get(transport.HeaderFileID) != "" {
		return h.handlePart(c)
	}

	fh, err := c.FormFile(transport.FormField)
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	name := transport.DecodeName(c.Request().Header.Get(transport.HeaderFileName))
	if strings.TrimSpace(name) == "" {
		name = fh.Filename
	}
	src, err := fh.Open()
	if err != nil {
		return NewInternalError("failed to read upload", err)
	}
	defer src.Close()

	stored, written, err := h.store.SaveWhole(name, fh.Size, src)
	if err != nil {
		return storageError("failed to store file", err)
	}
	return c.JSON(http.StatusOK, uploadResponse{Success: true, FileName: stored, Complete: true, FileSize: written})
}

func (h *Handlers) handlePart(c echo.Context) error {
	header := c.Request().Header
	req := PartRequest{
		FileID:   transport.DecodeName(header.Get(transport.HeaderFileID)),
		FileName: transport.DecodeName(header.Get(transport.HeaderFileName)),
	}
	if strings.TrimSpace(req.FileName) == "" {
		return NewValidationError(transport.HeaderFileName)
	}
	var err error
	if req.Index, err = strconv.Atoi(header.Get(transport.HeaderPartIndex)); err != nil {
		return NewValidationError(transport.HeaderPartIndex)
	}
	if req.Count, err = strconv.Atoi(header.Get(transport.HeaderPartCount)); err != nil {
		return NewValidationError(transport.HeaderPartCount)
	}
	if req.Size, err = strconv.ParseInt(header.Get(transport.HeaderPartSize), 10, 64); err != nil {
		return NewValidationError(transport.HeaderPartSize)
	}

	res, err := h.store.SavePart(req, c.Request().Body)
	if err != nil {
		logger := logging.WithContext(logging.WithFileID(c.Request().Context(), req.FileID), h.logger)
		logging.WarnWithContext(logger, "part rejected", "part_rejected",
			logging.Int(logging.FieldPartIndex, req.Index),
			logging.Error(err),
			logging.String(logging.FieldImpact, "client must resend the part"),
		)
		return storageError("failed to store part", err)
	}
	return c.JSON(http.StatusOK, uploadResponse{
		Success:  true,
		FileName: res.FileName,
		Complete: res.Complete,
		Received: res.Received,
	})
}

// HandleList returns the stored files.
func (h *Handlers) HandleList(c echo.Context) error {
	files, err := h.store.List()
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, listResponse{Success: true, Items: files})
}

// HandleRename renames a stored file. A missing source file is reported in
// the body rather than as an HTTP error.
func (h *Handlers) HandleRename(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return NewValidationError("fileName")
	}
	if strings.TrimSpace(req.NewName) == "" {
		return NewValidationError("newName")
	}

	stored, err := h.store.Rename(req.FileName, req.NewName)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusOK, renameResponse{Success: false, FileNotFound: true})
	case errors.Is(err, ErrExists):
		return NewConflictError("a file with that name already exists", err)
	case err != nil:
		return storageError("failed to rename file", err)
	}
	return c.JSON(http.StatusOK, renameResponse{Success: true, NewFileName: stored})
}

// HandleDelete removes a stored file.
func (h *Handlers) HandleDelete(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return NewValidationError("fileName")
	}

	err := h.store.Delete(req.FileName)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusOK, deleteResponse{Success: false, FileNotFound: true})
	case err != nil:
		return storageError("failed to delete file", err)
	}
	return c.JSON(http.StatusOK, deleteResponse{Success: true})
}

// HandleHealth reports server status.
func (h *Handlers) HandleHealth(c echo.Context) error {
	staged, err := h.store.StagedUploads()
	if err != nil {
		h.logger.Debug("list staging directories", logging.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":       true,
		"status":        "ok",
		"version":       h.version,
		"stagedUploads": len(staged),
	})
}
