package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/docintake/internal/common"
	"github.com/jo-hoe/docintake/internal/config"
	"github.com/jo-hoe/docintake/internal/intake"
	"github.com/jo-hoe/docintake/internal/jobs"
	"github.com/jo-hoe/docintake/internal/status"
)

type Service struct {
	Log    *slog.Logger
	Cfg    *config.Config
	Intake *intake.Coordinator
	Status *status.Service
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathUpload, svc.withBodyLimit(svc.handleUpload))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobStatus, svc.handleJobStatus)

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withBodyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		max := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (svc *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Files beyond the in-memory share spill to temp files, removed after the response.
	maxMem := safeInt64(svc.Cfg.Server.MaxUploadSize) / common.MultipartMemoryFraction
	if err := r.ParseMultipartForm(maxMem); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Detail: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid form: " + err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	// Parts sent with an empty filename are parsed as plain values; they still count as
	// submissions so the coordinator can skip them.
	headers := r.MultipartForm.File[common.FormFieldFiles]
	nameless := len(r.MultipartForm.Value[common.FormFieldFiles])
	if len(headers) == 0 && nameless == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "files is required"})
		return
	}

	subs := toSubmissions(headers)
	for i := 0; i < nameless; i++ {
		subs = append(subs, intake.Submission{})
	}
	results, err := svc.Intake.Submit(r.Context(), subs)
	if err != nil {
		svc.logger().Error("upload batch aborted", "files", len(subs), "err", err)
		writeJSON(w, statusForError(err), errorResponse{Detail: http.StatusText(statusForError(err))})
		return
	}
	writeJSON(w, http.StatusAccepted, results)
}

func toSubmissions(headers []*multipart.FileHeader) []intake.Submission {
	subs := make([]intake.Submission, 0, len(headers))
	for _, fh := range headers {
		subs = append(subs, intake.Submission{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return subs
}

func (svc *Service) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get(common.QueryJobID))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: common.QueryJobID + " is required"})
		return
	}

	snap, err := svc.Status.GetStatus(r.Context(), jobID)
	if err != nil {
		code := statusForError(err)
		var nf *status.NotFoundError
		if errors.As(err, &nf) {
			svc.logger().Info("job not found", "job_id", jobID)
			writeJSON(w, code, errorResponse{Detail: nf.Error()})
			return
		}
		svc.logger().Error("read job status", "job_id", jobID, "err", err)
		writeJSON(w, code, errorResponse{Detail: http.StatusText(code)})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// statusForError maps core errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, intake.ErrJobCreate):
		// Earlier documents of the batch may already be stored; retrying is not safe to automate.
		return http.StatusInternalServerError
	case errors.Is(err, jobs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (svc *Service) logger() *slog.Logger {
	if svc.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return svc.Log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
