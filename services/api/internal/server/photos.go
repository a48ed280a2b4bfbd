package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/util"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
	"github.com/pancham-xcelerate/rapid-photo-upload/services/api/internal/app"
)

// Parts above this size spill to disk while the form is parsed.
const multipartMemoryLimit = 32 << 20

// handleUploadPhotos ingests a multipart batch posted under the
// "files" field. The whole body is capped by maxBodyBytes; per-file
// limits are enforced by the app layer so one oversized file fails
// alone instead of sinking the batch.
func (s *Server) handleUploadPhotos(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusBadRequest, codeFileTooLarge,
				fmt.Sprintf("request body exceeds the %d byte upload limit", tooLarge.Limit), nil)
			return
		}
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid multipart form", nil)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "at least one file is required (field: files)", nil)
		return
	}
	if len(headers) > s.maxBatchFiles {
		writeError(w, r, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("too many files in one batch (max %d)", s.maxBatchFiles), nil)
		return
	}

	files := make([]app.UploadFile, 0, len(headers))
	for _, h := range headers {
		data, err := readPart(h.Open)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation,
				fmt.Sprintf("unreadable file part: %s", h.Filename), nil)
			return
		}
		files = append(files, app.UploadFile{
			Name:     h.Filename,
			MimeType: h.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	result, err := s.app.UploadPhotos(r.Context(), files)
	if err != nil {
		s.writeAppError(w, r, err, codeInternal)
		return
	}
	if result.Succeeded == 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "no files were accepted",
			map[string]any{"failed": result.Failed, "total": result.Total})
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func readPart(open func() (io.ReadCloser, error)) ([]byte, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request, filter store.PhotoFilter) {
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status, ok := domain.ParsePhotoStatus(raw)
		if !ok {
			writeError(w, r, http.StatusBadRequest, codeValidation, fmt.Sprintf("unknown status: %q", raw), nil)
			return
		}
		filter.Status = &status
	}
	if q.Get("favorite") == "true" {
		filter.FavoriteOnly = true
	}
	if q.Get("sort") == "updatedAt" {
		filter.Sort = store.SortUpdatedDesc
	}

	page := pageFromQuery(q)
	photos, total, err := s.app.ListPhotos(filter, page)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": photos,
		"total": total,
		"page":  page.Number,
		"size":  page.Size,
	})
}

// handlePollStatus is the polling fallback for clients without a
// WebSocket. It returns photos updated strictly after since and echoes
// a server timestamp for the next poll.
func (s *Server) handlePollStatus(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, codeValidation, "since parameter is required (ISO-8601 timestamp)", nil)
		return
	}
	since, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, fmt.Sprintf("since is not an ISO-8601 timestamp: %q", raw), nil)
		return
	}

	// Taken before the query. An update committing mid-request lands
	// after this cutoff and is picked up by the next poll instead of
	// being skipped.
	now := time.Now().UTC()

	ids := splitIDList(r.URL.Query().Get("photoIds"))
	photos, err := s.app.PollUpdates(since, ids)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}

	updated := make([]map[string]any, 0, len(photos))
	for _, p := range photos {
		updated = append(updated, map[string]any{
			"id":        p.ID,
			"status":    p.Status,
			"updatedAt": domain.FormatTimestamp(p.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updatedPhotos": updated,
		"timestamp":     domain.FormatTimestamp(now),
	})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request, op func([]string) app.BulkResult) {
	var body struct {
		PhotoIDs []string `json:"photoIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		return
	}
	if len(body.PhotoIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, codeValidation, "photoIds must not be empty", nil)
		return
	}
	writeJSON(w, http.StatusOK, op(body.PhotoIDs))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, id string, thumbnail bool) {
	var (
		dl  app.ObjectDownload
		err error
	)
	if thumbnail {
		dl, err = s.app.GetThumbnail(r.Context(), id)
	} else {
		dl, err = s.app.GetImage(r.Context(), id)
	}
	if err != nil {
		s.writeAppError(w, r, err, codeStorage)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", dl.Filename))
	if _, err := io.Copy(w, dl.Body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("image stream interrupted", "photo_id", id, "error", err)
	}
}

func (s *Server) handlePhotoEvents(w http.ResponseWriter, r *http.Request, id string) {
	events, err := s.app.ListPhotoEvents(id)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"count": len(events),
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		return
	}
	photo, err := s.app.UpdateStatus(id, body.Status, body.Message)
	if err != nil {
		s.writeAppError(w, r, err, codeProcessing)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Favorite *bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Favorite == nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "favorite (boolean) is required", nil)
		return
	}
	photo, err := s.app.SetFavorite(id, *body.Favorite)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body", nil)
		return
	}
	photo, err := s.app.Rename(id, body.Filename)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request, id string) {
	photo, err := s.app.Restore(id)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, photo)
}

func (s *Server) handlePermanentDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.app.PermanentDelete(r.Context(), id); err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	q := r.URL.Query()
	filter := store.EventFilter{PhotoID: strings.TrimSpace(q.Get("photoId"))}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		// Unknown types simply match nothing.
		eventType := domain.EventType(strings.ToUpper(raw))
		filter.Type = &eventType
	}

	page := pageFromQuery(q)
	events, total, err := s.app.ListEvents(filter, page)
	if err != nil {
		s.writeAppError(w, r, err, codeDatabase)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"total": total,
		"page":  page.Number,
		"size":  page.Size,
	})
}

func pageFromQuery(q url.Values) store.Page {
	var page store.Page
	if n, err := strconv.Atoi(q.Get("page")); err == nil {
		page.Number = n
	}
	if n, err := strconv.Atoi(q.Get("size")); err == nil {
		page.Size = n
	}
	return page.Normalized()
}

func splitIDList(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
