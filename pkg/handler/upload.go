package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/autoforensics/autoforensics/pkg/upload"
)

// maxUploadBytes caps evidence files at 64 MiB.
const maxUploadBytes = 64 << 20

// UploadHandler handles evidence file uploads and cleanup.
type UploadHandler struct {
	store  *upload.Store
	logger zerolog.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(store *upload.Store, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		store:  store,
		logger: logger.With().Str("handler", "upload").Logger(),
	}
}

// Routes returns the upload routes.
func (h *UploadHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Upload)
	r.Delete("/{filename}", h.Delete)

	return r
}

// UploadResponse represents a successful upload.
type UploadResponse struct {
	Success          bool   `json:"success"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	Message          string `json:"message"`
	CorrelationID    string `json:"correlation_id"`
}

// Upload handles POST /api/v1/upload
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid multipart request", correlationID)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "No file provided", correlationID)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		WriteError(w, http.StatusBadRequest, "No file selected", correlationID)
		return
	}

	if !h.store.Allowed(header.Filename) {
		WriteError(w, http.StatusBadRequest, "Invalid file type", correlationID)
		return
	}

	stored, err := h.store.Save(header.Filename, file)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("filename", header.Filename).Msg("Failed to store upload")
		WriteError(w, http.StatusInternalServerError, "Failed to store file", correlationID)
		return
	}

	h.logger.Info().
		Str("correlation_id", correlationID).
		Str("filename", stored).
		Str("original_filename", header.Filename).
		Msg("Evidence file uploaded")

	WriteJSON(w, http.StatusOK, UploadResponse{
		Success:          true,
		Filename:         stored,
		OriginalFilename: header.Filename,
		Message:          "File uploaded successfully",
		CorrelationID:    correlationID,
	})
}

// Delete handles DELETE /api/v1/upload/{filename}
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	filename := chi.URLParam(r, "filename")

	if filename == "" {
		WriteError(w, http.StatusBadRequest, "Filename is required", correlationID)
		return
	}

	if err := h.store.Remove(filename); err != nil {
		if errors.Is(err, upload.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "File not found", correlationID)
			return
		}
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("filename", filename).Msg("Failed to delete upload")
		WriteError(w, http.StatusInternalServerError, "Failed to delete file", correlationID)
		return
	}

	WriteSuccess(w, http.StatusOK, "File deleted", nil, correlationID)
}
