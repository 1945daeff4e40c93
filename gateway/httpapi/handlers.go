package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/eventmeta"
	"github.com/c360/framevault/locator"
	"github.com/c360/framevault/videocache"
)

type errorResponse struct {
	Status   string `json:"status"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type successResponse struct {
	Status string `json:"status"`
}

// handleVideo binds the query parameters, runs assembly through the cache,
// and streams the resulting file.
func (s *Service) handleVideo(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	location := query.Get("locationName")
	camera := query.Get("cameraId")
	if location == "" || camera == "" {
		writeErrorStatus(w, http.StatusBadRequest, "validation", "locationName and cameraId are required")
		return
	}

	start, err := parseTimestamp(query.Get("startTimestamp"))
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseTimestamp(query.Get("endTimestamp"))
	if err != nil {
		writeError(w, err)
		return
	}

	window := locator.TimeWindow{Start: start, End: end}
	if err := window.Validate(s.maxDuration); err != nil {
		writeError(w, err)
		return
	}

	sig := videocache.Signature(location, camera, start, end)
	path, err := s.cache.GetOrBuild(r.Context(), sig, func(ctx context.Context, outPath string) error {
		_, assembleErr := s.assembler.Assemble(ctx, location, camera, window, outPath)
		return assembleErr
	})
	if err != nil {
		writeError(w, err)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		writeError(w, errors.WrapTransient(err, "Service", "handleVideo", "open cached video"))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeError(w, errors.WrapTransient(err, "Service", "handleVideo", "stat cached video"))
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, file); err != nil {
		// Headers are out, nothing left to do but note it
		s.logger.Warn("Video stream interrupted", "path", path, "error", err)
	}
}

// handleGetEvent returns the stored descriptor for an event id.
func (s *Service) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	doc, err := s.events.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handlePutEvent validates the form fields and stores the descriptor.
func (s *Service) handlePutEvent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "validation", "malformed form body")
		return
	}

	start, err := parseTimestamp(r.FormValue("startTimestamp"))
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseTimestamp(r.FormValue("endTimestamp"))
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := eventmeta.BuildDocument(
		r.PathValue("id"),
		start, end,
		r.FormValue("location"),
		r.FormValue("camera"),
		s.maxDuration,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.events.Save(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Status: "success"})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.Healthy() {
		writeErrorStatus(w, http.StatusServiceUnavailable, "internal", "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseTimestamp accepts ISO-8601 offset date-times.
func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.WrapInvalid(errors.ErrInvalidTimestamp, "Service", "parseTimestamp", "missing timestamp")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.WrapInvalid(errors.ErrInvalidTimestamp, "Service", "parseTimestamp", raw)
	}
	return t.UTC(), nil
}

// writeError maps an error to its HTTP status via the error category.
func writeError(w http.ResponseWriter, err error) {
	category := errors.Category(err)

	status := http.StatusInternalServerError
	switch category {
	case "validation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "store":
		status = http.StatusBadGateway
	}

	writeErrorStatus(w, status, category, err.Error())
}

func writeErrorStatus(w http.ResponseWriter, status int, category, message string) {
	writeJSON(w, status, errorResponse{
		Status:   "error",
		Category: category,
		Message:  message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func httpStatusLabel(status int) string {
	return strconv.Itoa(status)
}
