package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/content"
	"github.com/faqforge/faqforge/internal/httpx"
	"github.com/faqforge/faqforge/internal/identity"
	"github.com/faqforge/faqforge/internal/objectstore"
	"github.com/faqforge/faqforge/internal/storage/postgres"
)

// maxLocalUploadBytes bounds the local-mode upload endpoint, mirroring the
// default presign limit.
const maxLocalUploadBytes = 50 << 20

// ContentHandler exposes the document lifecycle API.
type ContentHandler struct {
	svc      *content.Service
	identity *identity.Service
	local    *objectstore.LocalStore // nil outside local test mode
	logger   zerolog.Logger
}

func NewContentHandler(svc *content.Service, identitySvc *identity.Service, local *objectstore.LocalStore, logger zerolog.Logger) *ContentHandler {
	return &ContentHandler{
		svc:      svc,
		identity: identitySvc,
		local:    local,
		logger:   logger.With().Str("component", "content_api").Logger(),
	}
}

// Routes mounts the document surface behind the HMAC and bearer gates.
func (h *ContentHandler) Routes(r chi.Router) {
	if h.local != nil {
		// Stand-in for the object store's presigned PUT in local test mode.
		r.Put("/v1/documents/local-upload/*", h.localUpload)
	}

	r.Group(func(r chi.Router) {
		r.Use(HMACGate(h.identity))
		r.Use(BearerGate(h.identity))

		r.With(RequireRole(postgres.RoleAdmin)).Post("/v1/documents/upload", h.issueUpload)
		r.With(RequireRole(postgres.RoleAdmin)).Post("/v1/documents/{documentID}/confirm", h.confirmUpload)
		r.Get("/v1/documents", h.list)
		r.Get("/v1/documents/{documentID}/status", h.status)
		r.With(RequireRole(postgres.RoleAdmin)).Delete("/v1/documents/{documentID}", h.delete)
	})
}

type documentView struct {
	DocumentID        uuid.UUID  `json:"document_id"`
	Filename          string     `json:"filename"`
	SanitizedFilename string     `json:"sanitized_filename"`
	ContentType       string     `json:"content_type"`
	FileSize          int64      `json:"file_size"`
	Status            string     `json:"status"`
	ChunksCount       *int       `json:"chunks_count,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ErrorCode         *string    `json:"error_code,omitempty"`
	RetryCount        int        `json:"retry_count,omitempty"`
	UploadedAt        time.Time  `json:"uploaded_at"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	ProcessingTime    *float64   `json:"processing_time_seconds,omitempty"`
}

func viewDocument(d postgres.Document) documentView {
	v := documentView{
		DocumentID:        d.ID,
		Filename:          d.Filename,
		SanitizedFilename: d.SanitizedFilename,
		ContentType:       d.ContentType,
		FileSize:          d.FileSize,
		Status:            string(d.Status),
		UploadedAt:        d.UploadedAt,
	}
	switch d.Status {
	case postgres.StatusCompleted:
		v.ChunksCount = d.ChunksCount
		v.ProcessedAt = d.ProcessedAt
		if d.ProcessedAt != nil {
			secs := d.ProcessedAt.Sub(d.UploadedAt).Seconds()
			v.ProcessingTime = &secs
		}
	case postgres.StatusFailed:
		v.ErrorMessage = d.ErrorMessage
		v.ErrorCode = d.ErrorCode
		v.RetryCount = d.RetryCount
	}
	return v
}

func (h *ContentHandler) issueUpload(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	user, _ := UserFromContext(r.Context())

	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		FileSize    int64  `json:"file_size"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}

	grant, err := h.svc.IssueUpload(r.Context(), content.UploadRequest{
		OrgID:       org.ID,
		UserID:      user.ID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		FileSize:    req.FileSize,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, "upload issued", map[string]any{
		"document_id": grant.Document.ID,
		"upload_url":  grant.UploadURL,
		"storage_key": grant.Document.StorageKey,
		"status":      string(grant.Document.Status),
		"expires_in":  int((15 * time.Minute).Seconds()),
	})
}

func (h *ContentHandler) confirmUpload(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())

	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		apierr.Write(w, apierr.ErrValidation.WithDetails(map[string]any{"document_id": "must be a UUID"}))
		return
	}

	var req struct {
		FileSize int64 `json:"file_size"`
	}
	// Body is optional; the stored size stands when absent.
	_ = httpx.Decode(r, &req)

	doc, err := h.svc.ConfirmUpload(r.Context(), org.ID, documentID, req.FileSize)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "upload confirmed", viewDocument(doc))
}

func (h *ContentHandler) list(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	result, err := h.svc.List(r.Context(), content.ListRequest{
		OrgID:    org.ID,
		Status:   q.Get("status"),
		SortBy:   q.Get("sort_by"),
		SortDesc: strings.EqualFold(q.Get("order"), "desc") || q.Get("order") == "",
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	views := make([]documentView, 0, len(result.Documents))
	for _, d := range result.Documents {
		views = append(views, viewDocument(d))
	}
	httpx.WriteJSON(w, http.StatusOK, "documents listed", map[string]any{
		"documents": views,
		"pagination": map[string]any{
			"total":    result.Total,
			"has_more": result.HasMore,
		},
	})
}

func (h *ContentHandler) status(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())

	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		apierr.Write(w, apierr.ErrDocumentNotFound)
		return
	}

	doc, err := h.svc.Get(r.Context(), org.ID, documentID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "document status", viewDocument(doc))
}

func (h *ContentHandler) delete(w http.ResponseWriter, r *http.Request) {
	org, _ := OrgFromContext(r.Context())
	user, _ := UserFromContext(r.Context())

	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		apierr.Write(w, apierr.ErrDocumentNotFound)
		return
	}

	if err := h.svc.Delete(r.Context(), org.ID, documentID, user.ID); err != nil {
		apierr.Write(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "document deleted", nil)
}

// localUpload accepts raw document bytes at the URL a LocalStore presigned.
func (h *ContentHandler) localUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		apierr.Write(w, apierr.ErrValidation.WithMessage("missing storage key"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxLocalUploadBytes+1))
	if err != nil {
		apierr.Write(w, apierr.ErrValidation.WithMessage("failed to read upload body"))
		return
	}
	if len(data) > maxLocalUploadBytes {
		apierr.Write(w, apierr.ErrFileTooLarge)
		return
	}

	if err := h.local.Put(r.Context(), key, data); err != nil {
		h.logger.Error().Err(err).Str("storage_key", key).Msg("local upload failed")
		apierr.Write(w, apierr.ErrStorageUnavailable)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, "uploaded", map[string]any{"storage_key": key, "size": len(data)})
}
