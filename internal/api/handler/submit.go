package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/anupkhanal/ocrhub/internal/api/response"
	"github.com/anupkhanal/ocrhub/internal/document"
	"github.com/anupkhanal/ocrhub/internal/pipeline"
	"github.com/anupkhanal/ocrhub/pkg/models"
)

// maxMultipartMemory bounds how much of the upload is buffered in memory
// before the multipart reader spills to disk.
const maxMultipartMemory = 8 << 20

// Submitter defines the submission interface the handlers depend on.
type Submitter interface {
	SubmitPDF(ctx context.Context, filename string, data []byte, opts models.ExtractOptions, hybrid bool) (*models.Job, error)
	SubmitImage(ctx context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.Job, error)
}

// NewSubmitImageHandler returns an http.HandlerFunc for POST /api/v1/extract/image.
func NewSubmitImageHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, data, opts, ok := readSubmission(w, r)
		if !ok {
			return
		}

		j, err := svc.SubmitImage(r.Context(), filename, data, opts)
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		response.Accepted(w, submitResponse{JobID: j.ID.String(), Status: j.Status})
	}
}

// NewSubmitPDFHandler returns an http.HandlerFunc for POST /api/v1/extract/pdf
// (hybrid=false: every page goes through the recognition engine) and
// POST /api/v1/extract/pdf/hybrid (hybrid=true: per-page classification).
func NewSubmitPDFHandler(svc Submitter, hybrid bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, data, opts, ok := readSubmission(w, r)
		if !ok {
			return
		}

		j, err := svc.SubmitPDF(r.Context(), filename, data, opts, hybrid)
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		response.Accepted(w, submitResponse{JobID: j.ID.String(), Status: j.Status})
	}
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// readSubmission parses the multipart form: the document under "file" plus
// optional processing options as plain form fields. On failure it writes the
// error response and returns ok=false.
func readSubmission(w http.ResponseWriter, r *http.Request) (string, []byte, models.ExtractOptions, bool) {
	var opts models.ExtractOptions

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Request body must be multipart/form-data", nil)
		return "", nil, opts, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"file is required", nil)
		return "", nil, opts, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Could not read uploaded file", nil)
		return "", nil, opts, false
	}
	if len(data) == 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Uploaded file is empty", nil)
		return "", nil, opts, false
	}

	if v := r.FormValue("dpi"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"dpi must be an integer", nil)
			return "", nil, opts, false
		}
		opts.DPI = n
	}
	if v := r.FormValue("chunk_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"chunk_size must be a positive integer", nil)
			return "", nil, opts, false
		}
		opts.ChunkSize = n
	}
	if v := r.FormValue("max_pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"max_pages must be a positive integer", nil)
			return "", nil, opts, false
		}
		opts.MaxPages = n
	}
	if v := r.FormValue("text_threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"text_threshold must be a non-negative integer", nil)
			return "", nil, opts, false
		}
		opts.TextThreshold = n
	}
	if v := r.FormValue("languages"); v != "" {
		for _, lang := range strings.Split(v, ",") {
			lang = strings.TrimSpace(lang)
			if lang != "" {
				opts.Languages = append(opts.Languages, lang)
			}
		}
	}

	return header.Filename, data, opts, true
}

// writeSubmitError maps synchronous submission errors to HTTP responses.
// Anything the client can fix is a 4xx; only genuinely unexpected errors
// surface as a 500.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE",
			err.Error(), nil)
	case errors.Is(err, pipeline.ErrTooManyPages):
		response.Error(w, http.StatusUnprocessableEntity, "TOO_MANY_PAGES",
			err.Error(), nil)
	case errors.Is(err, pipeline.ErrInvalidDPI):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			err.Error(), nil)
	case errors.Is(err, document.ErrEncrypted):
		response.Error(w, http.StatusUnprocessableEntity, "DOCUMENT_ENCRYPTED",
			"The document is password-protected", nil)
	case errors.Is(err, document.ErrInvalid), errors.Is(err, document.ErrNoPages):
		response.Error(w, http.StatusUnprocessableEntity, "DOCUMENT_INVALID",
			"The document could not be parsed", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
