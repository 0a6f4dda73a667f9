// Package content implements document lifecycle management: upload issuance,
// upload confirmation, listing, status reporting and deletion.
//
// Purpose:
//   The content API never receives document bytes. It validates the upload
//   request, creates the pending row, hands back a presigned PUT URL, and on
//   confirmation publishes document.uploaded for the ingestion worker.
//
// Dependencies:
//   - github.com/aws/aws-sdk-go-v2 (via internal/objectstore): presigned URLs
//   - github.com/segmentio/kafka-go (via internal/events): lifecycle events
//
// Key Responsibilities:
//   - Content type allowlist and size ceiling enforcement
//   - Filename sanitization before anything touches a storage key
//   - Event emission with outbox fallback: a failed publish never fails the
//     upload confirmation
package content

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/faqforge/faqforge/internal/apierr"
	"github.com/faqforge/faqforge/internal/audit"
	"github.com/faqforge/faqforge/internal/events"
	"github.com/faqforge/faqforge/internal/objectstore"
	"github.com/faqforge/faqforge/internal/storage/postgres"
	"github.com/faqforge/faqforge/internal/vector"
)

// maxFilenameLen caps sanitized filenames.
const maxFilenameLen = 255

// extensionByContentType maps each allowed content type to the storage key
// extension.
var extensionByContentType = map[string]string{
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"text/plain":    "txt",
	"text/markdown": "md",
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	collapseUnderscores = regexp.MustCompile(`_{2,}`)
)

// Store is the slice of the database layer the content service needs.
// *postgres.Store satisfies it.
type Store interface {
	InsertDocument(ctx context.Context, params postgres.InsertDocumentParams) (postgres.Document, error)
	GetDocument(ctx context.Context, orgID, documentID uuid.UUID) (postgres.Document, error)
	ListDocuments(ctx context.Context, params postgres.ListDocumentsParams) (postgres.ListDocumentsResult, error)
	MarkUploaded(ctx context.Context, documentID uuid.UUID, fileSize int64) error
	SoftDeleteDocument(ctx context.Context, orgID, documentID uuid.UUID) (postgres.Document, error)
}

// Config carries the content service's tunables.
type Config struct {
	AllowedContentTypes []string
	MaxFileSize         int64
	TopicUploaded       string
}

// Service implements document lifecycle operations.
type Service struct {
	store     Store
	objects   objectstore.Store
	publisher events.Publisher
	index     vector.Index
	emitter   audit.Emitter
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates the content service. index may be nil when vector
// cleanup on delete is not wired.
func NewService(store Store, objects objectstore.Store, publisher events.Publisher, index vector.Index, emitter audit.Emitter, cfg Config, logger zerolog.Logger) *Service {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{
			"application/pdf",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"text/plain",
			"text/markdown",
		}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024
	}
	return &Service{
		store:     store,
		objects:   objects,
		publisher: publisher,
		index:     index,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger.With().Str("component", "content").Logger(),
		now:       time.Now,
	}
}

// UploadRequest describes one requested upload.
type UploadRequest struct {
	OrgID       uuid.UUID
	UserID      uuid.UUID
	Filename    string
	ContentType string
	FileSize    int64
}

// UploadGrant is the response to a granted upload request.
type UploadGrant struct {
	Document  postgres.Document
	UploadURL string
}

// IssueUpload validates the request, creates the pending document row and
// returns a presigned upload URL.
func (s *Service) IssueUpload(ctx context.Context, req UploadRequest) (UploadGrant, error) {
	contentType := normalizeContentType(req.ContentType)
	if !s.allowed(contentType) {
		return UploadGrant{}, apierr.ErrInvalidFileType.WithDetails(map[string]any{
			"content_type": req.ContentType,
			"allowed":      s.cfg.AllowedContentTypes,
		})
	}
	// FileSize zero means the client did not declare a size; the real size
	// arrives with the upload confirmation.
	if req.FileSize < 0 {
		return UploadGrant{}, apierr.ErrValidation.WithDetails(map[string]any{"file_size": "must not be negative"})
	}
	if req.FileSize > s.cfg.MaxFileSize {
		return UploadGrant{}, apierr.ErrFileTooLarge.WithDetails(map[string]any{
			"file_size": req.FileSize,
			"max_size":  s.cfg.MaxFileSize,
		})
	}
	sanitized := SanitizeFilename(req.Filename)
	if sanitized == "" {
		return UploadGrant{}, apierr.ErrValidation.WithDetails(map[string]any{"filename": "required"})
	}

	documentID := uuid.New()
	storageKey := fmt.Sprintf("%s/documents/%s.%s", req.OrgID, documentID, extensionByContentType[contentType])

	doc, err := s.store.InsertDocument(ctx, postgres.InsertDocumentParams{
		DocumentID:        documentID,
		OrgID:             req.OrgID,
		UploadedBy:        req.UserID,
		Filename:          req.Filename,
		SanitizedFilename: sanitized,
		ContentType:       contentType,
		FileSize:          req.FileSize,
		StorageKey:        storageKey,
	})
	if err != nil {
		return UploadGrant{}, fmt.Errorf("insert document: %w", err)
	}

	uploadURL, err := s.objects.PresignUpload(ctx, storageKey, contentType, req.FileSize)
	if err != nil {
		return UploadGrant{}, apierr.ErrStorageUnavailable.WithMessage(fmt.Sprintf("presign upload: %v", err))
	}

	s.logger.Info().
		Str("document_id", documentID.String()).
		Str("org_id", req.OrgID.String()).
		Str("content_type", contentType).
		Int64("file_size", req.FileSize).
		Msg("upload issued")
	return UploadGrant{Document: doc, UploadURL: uploadURL}, nil
}

// ConfirmUpload transitions the document to uploaded and publishes
// document.uploaded. The publish goes through the outbox publisher, so a bus
// outage cannot fail the confirmation.
func (s *Service) ConfirmUpload(ctx context.Context, orgID, documentID uuid.UUID, fileSize int64) (postgres.Document, error) {
	doc, err := s.store.GetDocument(ctx, orgID, documentID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return postgres.Document{}, apierr.ErrDocumentNotFound
		}
		return postgres.Document{}, fmt.Errorf("load document: %w", err)
	}

	if fileSize <= 0 {
		fileSize = doc.FileSize
	}
	if err := s.store.MarkUploaded(ctx, documentID, fileSize); err != nil {
		if errors.Is(err, postgres.ErrConflict) {
			// Already confirmed; re-confirmation is a no-op.
			return s.store.GetDocument(ctx, orgID, documentID)
		}
		return postgres.Document{}, fmt.Errorf("mark uploaded: %w", err)
	}

	now := s.now().UTC()
	err = s.publisher.Publish(ctx, s.cfg.TopicUploaded, documentID.String(), events.DocumentUploaded{
		EventType:   events.TypeDocumentUploaded,
		DocumentID:  documentID.String(),
		OrgID:       orgID.String(),
		StorageKey:  doc.StorageKey,
		ContentType: doc.ContentType,
		Filename:    doc.SanitizedFilename,
		UploadedAt:  now,
		Timestamp:   now,
	})
	if err != nil {
		// The outbox publisher already parked it; anything still failing here
		// is logged and the confirmation succeeds regardless.
		s.logger.Error().Err(err).Str("document_id", documentID.String()).Msg("document.uploaded publish failed")
	}

	s.auditEvent(ctx, orgID, doc.UploadedBy, audit.ActionDocumentUploaded, map[string]any{
		"document_id": documentID.String(),
		"filename":    doc.SanitizedFilename,
	})
	return s.store.GetDocument(ctx, orgID, documentID)
}

// ListRequest describes one listing query.
type ListRequest struct {
	OrgID    uuid.UUID
	Status   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// List returns one page of the org's documents.
func (s *Service) List(ctx context.Context, req ListRequest) (postgres.ListDocumentsResult, error) {
	params := postgres.ListDocumentsParams{
		OrgID:    req.OrgID,
		SortBy:   req.SortBy,
		SortDesc: req.SortDesc,
		Limit:    req.Limit,
		Offset:   req.Offset,
	}
	if req.Status != "" {
		status := postgres.DocumentStatus(req.Status)
		switch status {
		case postgres.StatusPending, postgres.StatusUploaded, postgres.StatusProcessing, postgres.StatusCompleted, postgres.StatusFailed:
			params.Status = &status
		default:
			return postgres.ListDocumentsResult{}, apierr.ErrValidation.WithDetails(map[string]any{"status": "unknown status filter"})
		}
	}
	return s.store.ListDocuments(ctx, params)
}

// Get returns one document, tenant-scoped.
func (s *Service) Get(ctx context.Context, orgID, documentID uuid.UUID) (postgres.Document, error) {
	doc, err := s.store.GetDocument(ctx, orgID, documentID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return postgres.Document{}, apierr.ErrDocumentNotFound
		}
		return postgres.Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}

// Delete soft-deletes the document and best-effort removes its blob and
// vectors. The row survives for audit.
func (s *Service) Delete(ctx context.Context, orgID, documentID, actorID uuid.UUID) error {
	doc, err := s.store.SoftDeleteDocument(ctx, orgID, documentID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return apierr.ErrDocumentNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}

	if err := s.objects.Delete(ctx, doc.StorageKey); err != nil {
		s.logger.Warn().Err(err).Str("storage_key", doc.StorageKey).Msg("blob delete failed")
	}
	if s.index != nil {
		if err := s.index.DeleteByDocument(ctx, vector.Namespace(orgID), documentID); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID.String()).Msg("vector delete failed")
		}
	}

	s.auditEvent(ctx, orgID, actorID, audit.ActionDocumentDeleted, map[string]any{
		"document_id": documentID.String(),
		"filename":    doc.SanitizedFilename,
	})
	return nil
}

func (s *Service) auditEvent(ctx context.Context, orgID, userID uuid.UUID, action string, details map[string]any) {
	err := s.emitter.Emit(ctx, audit.Event{
		OrgID:   orgID,
		UserID:  &userID,
		Action:  action,
		Status:  audit.StatusSuccess,
		Details: details,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("audit emit failed")
	}
}

func (s *Service) allowed(contentType string) bool {
	for _, t := range s.cfg.AllowedContentTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

func normalizeContentType(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// SanitizeFilename strips directories, replaces anything outside
// [A-Za-z0-9._-] with an underscore, collapses underscore runs and trims to
// 255 bytes while keeping the extension.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = collapseUnderscores.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, "_.", ".")
	name = strings.Trim(name, "_.")
	if name == "" {
		return ""
	}
	if len(name) > maxFilenameLen {
		ext := path.Ext(name)
		if len(ext) >= maxFilenameLen {
			ext = ""
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}
