package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/util"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/lifecycle"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/api/internal/app"
)

// Error codes of the API envelope.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeFileTooLarge = "FILE_TOO_LARGE"
	codeUnsupported  = "UNSUPPORTED_FORMAT"
	codeNotFound     = "NOT_FOUND"
	codeStorage      = "STORAGE_ERROR"
	codeProcessing   = "PROCESSING_ERROR"
	codeDatabase     = "DATABASE_ERROR"
	codeInternal     = "INTERNAL_ERROR"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Hub            *notify.Hub
	MaxBodyBytes   int64
	MaxBatchFiles  int
	TrustedProxies *util.TrustedProxies
}

// Server exposes the photo API over HTTP.
type Server struct {
	app           *app.App
	hub           *notify.Hub
	mux           *http.ServeMux
	maxBodyBytes  int64
	maxBatchFiles int
	trusted       *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("notification hub required")
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = 5 << 30
	}
	maxBatchFiles := cfg.MaxBatchFiles
	if maxBatchFiles <= 0 {
		maxBatchFiles = 1000
	}
	s := &Server{
		app:           cfg.App,
		hub:           cfg.Hub,
		mux:           http.NewServeMux(),
		maxBodyBytes:  maxBodyBytes,
		maxBatchFiles: maxBatchFiles,
		trusted:       cfg.TrustedProxies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", s.trusted, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/photos", s.handlePhotos)
	s.mux.HandleFunc("/api/photos/", s.handlePhotoSubtree)
	s.mux.HandleFunc("/api/events", s.handleListEvents)
	s.mux.Handle("/ws/photo-status", websocket.Handler(s.handlePhotoStatusWS))
	s.mux.HandleFunc("/", s.handleUnknownRoute)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnknownRoute(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
}

// /api/photos: POST uploads a batch, GET lists the library.
func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadPhotos(w, r)
	case http.MethodGet:
		s.handleListPhotos(w, r, store.PhotoFilter{})
	default:
		methodNotAllowed(w, r)
	}
}

// handlePhotoSubtree dispatches everything under /api/photos/: the
// fixed collections (favorites, trash, status, bulk-*) and the
// per-photo routes.
func (s *Server) handlePhotoSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/photos/")
	head, rest, _ := strings.Cut(path, "/")
	if head == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
		return
	}

	if rest == "" {
		switch head {
		case "favorites":
			s.requireGet(w, r, func() { s.handleListPhotos(w, r, store.PhotoFilter{FavoriteOnly: true}) })
			return
		case "trash":
			s.requireGet(w, r, func() { s.handleListPhotos(w, r, store.PhotoFilter{TrashOnly: true}) })
			return
		case "status":
			s.requireGet(w, r, func() { s.handlePollStatus(w, r) })
			return
		case "bulk-delete":
			s.requirePost(w, r, func() { s.handleBulk(w, r, s.app.BulkTrash) })
			return
		case "bulk-restore":
			s.requirePost(w, r, func() { s.handleBulk(w, r, s.app.BulkRestore) })
			return
		case "bulk-permanent-delete":
			s.requirePost(w, r, func() {
				s.handleBulk(w, r, func(ids []string) app.BulkResult {
					return s.app.BulkPermanentDelete(r.Context(), ids)
				})
			})
			return
		}
		s.handlePhotoByID(w, r, head)
		return
	}

	id := head
	switch rest {
	case "image":
		s.requireGet(w, r, func() { s.handleImage(w, r, id, false) })
	case "thumbnail":
		s.requireGet(w, r, func() { s.handleImage(w, r, id, true) })
	case "events":
		s.requireGet(w, r, func() { s.handlePhotoEvents(w, r, id) })
	case "status":
		s.requirePut(w, r, func() { s.handleUpdateStatus(w, r, id) })
	case "favorite":
		s.requirePut(w, r, func() { s.handleFavorite(w, r, id) })
	case "rename":
		s.requirePut(w, r, func() { s.handleRename(w, r, id) })
	case "restore":
		s.requirePost(w, r, func() { s.handleRestore(w, r, id) })
	case "permanent":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r)
			return
		}
		s.handlePermanentDelete(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
	}
}

func (s *Server) handlePhotoByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		photo, err := s.app.GetPhoto(id)
		if err != nil {
			s.writeAppError(w, r, err, codeInternal)
			return
		}
		writeJSON(w, http.StatusOK, photo)
	case http.MethodDelete:
		photo, err := s.app.Trash(id)
		if err != nil {
			s.writeAppError(w, r, err, codeDatabase)
			return
		}
		writeJSON(w, http.StatusOK, photo)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	fn()
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	fn()
}

func (s *Server) requirePut(w http.ResponseWriter, r *http.Request, fn func()) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r)
		return
	}
	fn()
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed", nil)
}

// writeAppError maps application errors onto the API error envelope.
// fallback is the code used for errors the switch does not recognize.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	logger := util.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, app.ErrPhotoNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "photo not found", nil)
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, r, http.StatusBadRequest, codeFileTooLarge, err.Error(), nil)
	case errors.Is(err, app.ErrUnsupportedFormat):
		writeError(w, r, http.StatusBadRequest, codeUnsupported, err.Error(), nil)
	case errors.Is(err, app.ErrNoFiles),
		errors.Is(err, app.ErrBatchTooLarge),
		errors.Is(err, app.ErrEmptyFile),
		errors.Is(err, app.ErrFilenameRequired),
		errors.Is(err, app.ErrNotInTrash),
		errors.Is(err, app.ErrInvalidStatus),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error(), nil)
	case errors.Is(err, app.ErrStorageFailure):
		logger.Error("storage failure", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeStorage, "storage operation failed", nil)
	case errors.Is(err, store.ErrConcurrentUpdate):
		logger.Error("concurrent update not resolved", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, codeDatabase, "the photo was modified concurrently, please retry", nil)
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, fallback, "internal error", nil)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Details   any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, errorResponse{
		Error:     code,
		Message:   message,
		Timestamp: domain.FormatTimestamp(time.Now().UTC()),
		Path:      r.URL.Path,
		Details:   details,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
