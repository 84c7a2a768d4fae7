package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"mediavault/internal/audit"
	"mediavault/internal/auth"
	"mediavault/internal/media"
)

type recordingQueue struct {
	items []media.Item
}

func (q *recordingQueue) Enqueue(item media.Item) {
	q.items = append(q.items, item)
}

func uploadRequest(t *testing.T, album, filename, contentType string, payload []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if album != "" {
		if err := writer.WriteField("album", album); err != nil {
			t.Fatalf("write album field: %v", err)
		}
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="media"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func withRole(r *http.Request, role auth.Role) *http.Request {
	return r.WithContext(ContextWithRole(r.Context(), role))
}

func TestUploadStoresMediaAndQueuesThumbnail(t *testing.T) {
	handler := newTestHandler(t)
	queue := &recordingQueue{}
	handler.Thumbnails = queue

	req := withRole(uploadRequest(t, "travel", "beach.jpg", "image/jpeg", []byte("jpeg-bytes")), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var item media.Item
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if item.Album != "travel" {
		t.Fatalf("expected travel album, got %q", item.Album)
	}
	if item.Category != media.CategoryImage {
		t.Fatalf("expected image category, got %q", item.Category)
	}
	if item.SizeBytes != int64(len("jpeg-bytes")) {
		t.Fatalf("unexpected stored size %d", item.SizeBytes)
	}

	if len(queue.items) != 1 || queue.items[0].ID != item.ID {
		t.Fatalf("expected item to be queued for thumbnailing, got %v", queue.items)
	}

	entries, err := handler.Audit.Read(10)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionUpload || entries[0].MediaID != item.ID {
		t.Fatalf("expected an upload audit entry, got %v", entries)
	}
}

func TestUploadRedirectsBrowser(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(uploadRequest(t, "", "clip.mp4", "video/mp4", []byte("mp4")), auth.RoleAdmin)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/admin.html" {
		t.Fatalf("expected redirect to /admin.html, got %q", loc)
	}
}

func TestUploadForbiddenForViewer(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(uploadRequest(t, "", "beach.jpg", "image/jpeg", []byte("x")), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUploadRequiresAuthenticatedContext(t *testing.T) {
	handler := newTestHandler(t)

	req := uploadRequest(t, "", "beach.jpg", "image/jpeg", []byte("x"))
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(uploadRequest(t, "", "report.pdf", "application/pdf", []byte("%PDF")), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d: %s", rec.Code, rec.Body.String())
	}
}

// trailingAlbumRequest builds a multipart body whose album field follows the
// file part instead of preceding it.
func trailingAlbumRequest(t *testing.T, album string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="media"; filename="beach.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := writer.WriteField("album", album); err != nil {
		t.Fatalf("write album field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadRejectsAlbumAfterFile(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(trailingAlbumRequest(t, "vacation"), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	items, err := handler.Media.List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected misplaced upload to be removed, got %v", items)
	}
}

func TestUploadAcceptsMatchingAlbumAfterFile(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(trailingAlbumRequest(t, "general"), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var item media.Item
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if item.Album != "general" {
		t.Fatalf("expected general album, got %q", item.Album)
	}
}

func TestUploadRejectsOversizedDeclaredLength(t *testing.T) {
	handler := newTestHandler(t)
	handler.Validator = media.NewValidator(16)

	req := withRole(uploadRequest(t, "", "beach.jpg", "image/jpeg", bytes.Repeat([]byte("a"), 1024)), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejectsBadAlbum(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(uploadRequest(t, "No Spaces Allowed", "beach.jpg", "image/jpeg", []byte("x")), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRequiresFilePart(t *testing.T) {
	handler := newTestHandler(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("album", "travel"); err != nil {
		t.Fatalf("write album field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req = withRole(req, auth.RoleAdmin)

	rec := httptest.NewRecorder()
	handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func storeTestItem(t *testing.T, handler *Handler, album, name, contentType string, payload []byte) media.Item {
	t.Helper()

	category, ok := media.CategoryForContentType(contentType)
	if !ok {
		t.Fatalf("no category for content type %q", contentType)
	}
	item, err := handler.Media.Store(context.Background(), album, category, name, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	return item
}

func TestMediaIndexListsItems(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg"))

	req := withRole(httptest.NewRequest(http.MethodGet, "/media", nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.MediaIndex(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Media []media.Item `json:"media"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode media index: %v", err)
	}
	if len(payload.Media) != 1 || payload.Media[0].ID != item.ID {
		t.Fatalf("expected one listed item, got %v", payload.Media)
	}
}

func TestMediaIndexReturnsEmptyArray(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(httptest.NewRequest(http.MethodGet, "/media", nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.MediaIndex(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"media":[]`) {
		t.Fatalf("expected empty media array, got %s", rec.Body.String())
	}
}

func TestStreamMediaRecordsView(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg-payload"))

	req := withRole(httptest.NewRequest(http.MethodGet, "/media/"+item.ID, nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.MediaByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "jpeg-payload" {
		t.Fatalf("unexpected body %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store, got %q", cc)
	}

	entries, err := handler.Audit.Read(10)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionView {
		t.Fatalf("expected a view audit entry, got %v", entries)
	}
}

func TestStreamMediaSupportsRangeRequests(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "clip.mp4", "video/mp4", []byte("0123456789"))

	req := withRole(httptest.NewRequest(http.MethodGet, "/media/"+item.ID, nil), auth.RoleViewer)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	handler.MediaByID(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "2345" {
		t.Fatalf("unexpected range body %q", got)
	}
}

func TestStreamMediaUnknownID(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(httptest.NewRequest(http.MethodGet, "/media/travel/missing.jpg", nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.MediaByID(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteMedia(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg"))

	req := withRole(httptest.NewRequest(http.MethodDelete, "/media/"+item.ID, nil), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.MediaByID(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.MediaByID(rec, withRole(httptest.NewRequest(http.MethodDelete, "/media/"+item.ID, nil), auth.RoleAdmin))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}

	entries, err := handler.Audit.Read(10)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionDelete {
		t.Fatalf("expected one delete audit entry, got %v", entries)
	}
}

func TestDeleteMediaForbiddenForViewer(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg"))

	req := withRole(httptest.NewRequest(http.MethodDelete, "/media/"+item.ID, nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.MediaByID(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestThumbnailServed(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg"))

	if err := handler.Media.StoreThumbnail(context.Background(), item.ID, []byte("thumb-jpeg")); err != nil {
		t.Fatalf("StoreThumbnail returned error: %v", err)
	}

	req := withRole(httptest.NewRequest(http.MethodGet, "/thumbs/"+item.ID, nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.Thumbnail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", ct)
	}
	if got := rec.Body.String(); got != "thumb-jpeg" {
		t.Fatalf("unexpected thumbnail body %q", got)
	}
}

func TestThumbnailMissing(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg"))

	req := withRole(httptest.NewRequest(http.MethodGet, "/thumbs/"+item.ID, nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.Thumbnail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	handler := newTestHandler(t)

	req := withRole(httptest.NewRequest(http.MethodGet, "/admin/logs", nil), auth.RoleViewer)
	rec := httptest.NewRecorder()
	handler.AuditLogs(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAuditLogsReturnsEntries(t *testing.T) {
	handler := newTestHandler(t)
	item := storeTestItem(t, handler, "travel", "beach.jpg", "image/jpeg", []byte("jpeg"))

	streamReq := withRole(httptest.NewRequest(http.MethodGet, "/media/"+item.ID, nil), auth.RoleViewer)
	handler.MediaByID(httptest.NewRecorder(), streamReq)

	req := withRole(httptest.NewRequest(http.MethodGet, "/admin/logs?limit=5", nil), auth.RoleAdmin)
	rec := httptest.NewRecorder()
	handler.AuditLogs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode audit response: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Entries[0].MediaID != item.ID {
		t.Fatalf("expected one entry for %s, got %v", item.ID, payload.Entries)
	}
}

func TestAuditLogsRejectsBadLimit(t *testing.T) {
	handler := newTestHandler(t)

	for _, limit := range []string{"abc", "0", "-3"} {
		req := withRole(httptest.NewRequest(http.MethodGet, "/admin/logs?limit="+limit, nil), auth.RoleAdmin)
		rec := httptest.NewRecorder()
		handler.AuditLogs(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", limit, rec.Code)
		}
	}
}
