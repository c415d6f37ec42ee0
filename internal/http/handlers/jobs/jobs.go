package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/princekumarofficial/transcode-nexus/internal/services/intake"
	"github.com/princekumarofficial/transcode-nexus/internal/types/jobs"
	"github.com/princekumarofficial/transcode-nexus/internal/utils/response"
)

// multipart fields above this size are spooled to disk
const maxMemory = 32 << 20

// Service is the intake/status service behind the handlers.
type Service interface {
	Submit(ctx context.Context, req intake.SubmitRequest) (*jobs.Handle, error)
	Status(ctx context.Context, id string) (jobs.Result, error)
}

type StatusResponse struct {
	Status jobs.Status `json:"status"`
	URL    string      `json:"url,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Submit accepts a video upload and enqueues a conversion job
// @Summary Submit a conversion job
// @Description Upload a video as multipart form data and get a job id back
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param video formData file true "Video file"
// @Param format formData string false "Output format (mp4, avi, mov, webm, mkv)"
// @Param compression formData string false "Compression between 0 and 1, default 1"
// @Param email formData string false "Address notified when the job succeeds"
// @Success 202 {object} jobs.Handle
// @Failure 400 {object} response.ErrorResponse
// @Failure 413 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Router /jobs [post]
func Submit(svc Service, maxUploadSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+maxMemory)

		if err := r.ParseMultipartForm(maxMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("%w: request exceeds %d bytes", intake.ErrPayloadTooLarge, tooLarge.Limit))
				return
			}
			response.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart body: %w", err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		req := intake.SubmitRequest{
			Format:      r.FormValue("format"),
			Compression: r.FormValue("compression"),
			Email:       r.FormValue("email"),
		}

		file, header, err := r.FormFile("video")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			response.WriteError(w, http.StatusBadRequest, fmt.Errorf("invalid video field: %w", err))
			return
		default:
			defer file.Close()
			req.Filename = header.Filename
			req.Size = header.Size
			req.Body = file
		}

		handle, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		response.WriteJSON(w, http.StatusAccepted, handle)
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var verr *intake.ValidationError
	switch {
	case errors.Is(err, intake.ErrPayloadTooLarge):
		response.WriteError(w, http.StatusRequestEntityTooLarge, err)
	case errors.As(err, &verr):
		slog.Info("submission rejected", slog.String("field", verr.Field), slog.String("error", err.Error()))
		response.WriteError(w, http.StatusBadRequest, err)
	default:
		slog.Error("failed to submit job", slog.String("error", err.Error()))
		response.WriteError(w, http.StatusInternalServerError, errors.New("failed to submit job"))
	}
}

// Status returns the current status of a job
// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} StatusResponse
// @Failure 404 {object} StatusResponse
// @Router /jobs/{job_id} [get]
func Status(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Status(r.Context(), r.PathValue("job_id"))
		if err != nil {
			slog.Error("failed to read job status", slog.String("job_id", r.PathValue("job_id")), slog.String("error", err.Error()))
			response.WriteError(w, http.StatusInternalServerError, errors.New("failed to read job status"))
			return
		}

		code := http.StatusOK
		if result.Status == jobs.StatusNotFound {
			code = http.StatusNotFound
		}

		response.WriteJSON(w, code, StatusResponse{
			Status: result.Status,
			URL:    result.URL,
			Error:  result.Error,
		})
	}
}
