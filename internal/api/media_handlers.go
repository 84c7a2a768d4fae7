package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediavault/internal/audit"
	"mediavault/internal/auth"
	"mediavault/internal/media"
)

const uploadFileField = "media"

// Upload accepts a multipart upload from an admin, validates it against the
// configured policy, and stores it. Thumbnail rendering is queued and never
// blocks the response.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	role, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}

	// The declared length catches oversized uploads before any bytes are
	// read; the limited reader below enforces the same bound on the actual
	// stream.
	if h.Validator.MaxSizeBytes > 0 && r.ContentLength > h.Validator.MaxSizeBytes {
		writeError(w, http.StatusRequestEntityTooLarge, media.ErrTooLarge)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	album := ""
	var item media.Item
	stored := false
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == uploadFileField {
			if stored {
				_ = part.Close()
				continue
			}
			saved, status, saveErr := h.storeUploadPart(r, part, album)
			if saveErr != nil {
				writeError(w, status, saveErr)
				return
			}
			item = saved
			stored = true
			continue
		}
		payload, readErr := io.ReadAll(io.LimitReader(part, 4096))
		_ = part.Close()
		if readErr != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
			return
		}
		if name == "album" {
			value := strings.TrimSpace(string(payload))
			if !stored {
				album = value
				continue
			}
			// The file was already streamed into place; an album arriving
			// afterwards can no longer influence where it landed. Reject
			// instead of silently keeping the wrong album.
			sanitized, sanErr := media.SanitizeAlbum(value)
			if sanErr != nil || sanitized != item.Album {
				_ = h.Media.Delete(r.Context(), item.ID)
				writeError(w, http.StatusBadRequest, fmt.Errorf("album field must precede the %q file field", uploadFileField))
				return
			}
		}
	}
	if !stored {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field %q is required", uploadFileField))
		return
	}

	h.appendAudit(r, audit.ActionUpload, role, item.ID)
	if h.Thumbnails != nil {
		h.Thumbnails.Enqueue(item)
	}
	h.logger().Info("media stored", "media_id", item.ID, "bytes", item.SizeBytes, "category", string(item.Category))

	if wantsHTML(r) {
		http.Redirect(w, r, "/admin.html", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// storeUploadPart validates the file part and streams it into the backend.
// The album field must precede the file part in the multipart body, which is
// how browsers order form fields; a conflicting album after the file is
// rejected by the caller.
func (h *Handler) storeUploadPart(r *http.Request, part *multipart.Part, album string) (media.Item, int, error) {
	defer part.Close()
	originalName := part.FileName()
	contentType := part.Header.Get("Content-Type")

	declared := r.ContentLength
	if declared < 0 {
		declared = 0
	}
	decision, err := h.Validator.Accept(contentType, declared, album)
	if err != nil {
		return media.Item{}, statusForValidationError(err), err
	}

	src := io.Reader(part)
	if h.Validator.MaxSizeBytes > 0 {
		src = &io.LimitedReader{R: part, N: h.Validator.MaxSizeBytes + 1}
	}
	item, err := h.Media.Store(r.Context(), decision.Album, decision.Category, originalName, src)
	if err != nil {
		if errors.Is(err, media.ErrBadAlbum) {
			return media.Item{}, http.StatusBadRequest, err
		}
		return media.Item{}, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err)
	}
	if h.Validator.MaxSizeBytes > 0 && item.SizeBytes > h.Validator.MaxSizeBytes {
		_ = h.Media.Delete(r.Context(), item.ID)
		return media.Item{}, http.StatusRequestEntityTooLarge, media.ErrTooLarge
	}
	return item, 0, nil
}

func statusForValidationError(err error) int {
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

// MediaIndex lists stored media for any authenticated role, newest first.
func (h *Handler) MediaIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedRole(w, r); !ok {
		return
	}

	items, err := h.Media.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list media: %w", err))
		return
	}
	if items == nil {
		items = []media.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": items})
}

// MediaByID streams or deletes a single media object addressed as
// /media/{album}/{file}.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/media/"), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("media id missing"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.streamMedia(w, r, id)
	case http.MethodDelete:
		h.deleteMedia(w, r, id)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (h *Handler) streamMedia(w http.ResponseWriter, r *http.Request, id string) {
	role, ok := h.requireAuthenticatedRole(w, r)
	if !ok {
		return
	}

	reader, item, err := h.Media.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrBadMediaID) {
			writeError(w, http.StatusNotFound, fmt.Errorf("media %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		_ = reader.Close()
	}()

	h.appendAudit(r, audit.ActionView, role, item.ID)

	w.Header().Set("Content-Type", media.ContentTypeForFilename(item.Name))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, item.Name, item.CreatedAt, reader)
}

func (h *Handler) deleteMedia(w http.ResponseWriter, r *http.Request, id string) {
	role, ok := h.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}

	if err := h.Media.Delete(r.Context(), id); err != nil {
		if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrBadMediaID) {
			writeError(w, http.StatusNotFound, fmt.Errorf("media %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.Media.DeleteThumbnail(r.Context(), id); err != nil {
		h.logger().Warn("failed to delete thumbnail", "media_id", id, "error", err)
	}

	h.appendAudit(r, audit.ActionDelete, role, id)
	h.logger().Info("media deleted", "media_id", id, "role", string(role))
	w.WriteHeader(http.StatusNoContent)
}

// Thumbnail serves the rendered preview addressed as /thumbs/{album}/{file}.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedRole(w, r); !ok {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/thumbs/"), "/")
	reader, modTime, err := h.Media.OpenThumbnail(r.Context(), id)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) || errors.Is(err, media.ErrBadMediaID) {
			writeError(w, http.StatusNotFound, fmt.Errorf("thumbnail for %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "thumbnail.jpg", modTime, reader)
}

// AuditLogs returns recent audit entries to an admin, newest first.
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.auditLog().Read(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read audit log: %w", err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) auditLog() audit.Log {
	h.initDefaults()
	return h.Audit
}

// appendAudit records an access event. Failures are logged and swallowed so
// auditing never breaks media delivery.
func (h *Handler) appendAudit(r *http.Request, action audit.Action, role auth.Role, mediaID string) {
	entry := audit.Entry{
		Time:       time.Now().UTC(),
		Action:     action,
		Role:       string(role),
		MediaID:    mediaID,
		ClientAddr: clientAddr(r),
		UserAgent:  r.UserAgent(),
	}
	if err := h.auditLog().Append(entry); err != nil {
		h.logger().Error("failed to append audit entry", "media_id", mediaID, "error", err)
	}
}

func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
