package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// maxStoredErrorLen caps the failure message persisted on a document row so
// oversized upstream errors cannot bloat the table.
const maxStoredErrorLen = 1000

// documentSortColumns whitelists the ORDER BY targets for ListDocuments.
// Anything else falls back to uploaded_at.
var documentSortColumns = map[string]string{
	"uploaded_at": "uploaded_at",
	"filename":    "sanitized_filename",
	"status":      "status",
}

// InsertDocumentParams bundles the inputs for creating a document row in the
// pending state.
type InsertDocumentParams struct {
	DocumentID        uuid.UUID
	OrgID             uuid.UUID
	UploadedBy        uuid.UUID
	Filename          string
	SanitizedFilename string
	ContentType       string
	FileSize          int64
	StorageKey        string
}

// InsertDocument creates the pending row for a freshly requested upload.
func (s *Store) InsertDocument(ctx context.Context, params InsertDocumentParams) (Document, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (document_id, org_id, uploaded_by, filename, sanitized_filename, content_type, file_size, storage_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`,
		params.DocumentID,
		params.OrgID,
		params.UploadedBy,
		params.Filename,
		params.SanitizedFilename,
		params.ContentType,
		params.FileSize,
		params.StorageKey,
		string(StatusPending),
	)
	return scanDocument(row)
}

// GetDocument retrieves a document scoped to its organization. Soft-deleted
// rows are invisible.
func (s *Store) GetDocument(ctx context.Context, orgID, documentID uuid.UUID) (Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT * FROM documents
		WHERE org_id = $1 AND document_id = $2 AND deleted_at IS NULL
	`, orgID, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// GetDocumentAnyOrg retrieves a document without tenant scoping. Reserved for
// the ingestion worker, which receives the org from the event envelope and
// re-checks it against the row.
func (s *Store) GetDocumentAnyOrg(ctx context.Context, documentID uuid.UUID) (Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT * FROM documents WHERE document_id = $1 AND deleted_at IS NULL
	`, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// ListDocumentsParams control pagination and ordering for a tenant's
// document listing.
type ListDocumentsParams struct {
	OrgID    uuid.UUID
	Status   *DocumentStatus
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// ListDocumentsResult carries one page plus the total for has_more math.
type ListDocumentsResult struct {
	Documents []Document
	Total     int
	HasMore   bool
}

// ListDocuments returns one page of a tenant's documents. The sort column is
// resolved through a whitelist; user input never reaches the SQL text.
func (s *Store) ListDocuments(ctx context.Context, params ListDocumentsParams) (ListDocumentsResult, error) {
	if params.Limit <= 0 {
		params.Limit = 20
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	column, ok := documentSortColumns[params.SortBy]
	if !ok {
		column = "uploaded_at"
	}
	direction := "ASC"
	if params.SortDesc {
		direction = "DESC"
	}

	where := "org_id = $1 AND deleted_at IS NULL"
	args := []any{params.OrgID}
	if params.Status != nil {
		where += " AND status = $2"
		args = append(args, string(*params.Status))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&total); err != nil {
		return ListDocumentsResult{}, err
	}

	query := fmt.Sprintf(
		"SELECT * FROM documents WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		where, column, direction, params.Limit, params.Offset,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ListDocumentsResult{}, err
	}
	defer rows.Close()

	docs := make([]Document, 0, params.Limit)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return ListDocumentsResult{}, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return ListDocumentsResult{}, err
	}
	return ListDocumentsResult{
		Documents: docs,
		Total:     total,
		HasMore:   params.Offset+len(docs) < total,
	}, nil
}

// MarkUploaded transitions pending -> uploaded once the client confirms the
// object landed. A compare-and-set: any other current status returns
// ErrConflict so duplicate confirmations are harmless.
func (s *Store) MarkUploaded(ctx context.Context, documentID uuid.UUID, fileSize int64) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2, file_size = $3, updated_at = NOW()
		WHERE document_id = $1 AND status = $4 AND deleted_at IS NULL
	`, documentID, string(StatusUploaded), fileSize, string(StatusPending))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkProcessing transitions uploaded|processing -> processing. Re-entering
// processing is allowed so a redelivered event can resume a crashed run;
// a completed or failed document returns ErrConflict and the caller skips.
func (s *Store) MarkProcessing(ctx context.Context, documentID uuid.UUID) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2, updated_at = NOW()
		WHERE document_id = $1 AND status IN ($3, $2) AND deleted_at IS NULL
	`, documentID, string(StatusProcessing), string(StatusUploaded))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkCompleted transitions processing -> completed and records the chunk
// count and completion time.
func (s *Store) MarkCompleted(ctx context.Context, documentID uuid.UUID, chunksCount int) error {
	cmd, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2,
			chunks_count = $3,
			error_message = NULL,
			error_code = NULL,
			processed_at = NOW(),
			updated_at = NOW()
		WHERE document_id = $1 AND status = $4 AND deleted_at IS NULL
	`, documentID, string(StatusCompleted), chunksCount, string(StatusProcessing))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFailed transitions processing -> failed, truncating the stored error
// and bumping retry_count.
func (s *Store) MarkFailed(ctx context.Context, documentID uuid.UUID, errorCode, errorMessage string) error {
	if len(errorMessage) > maxStoredErrorLen {
		errorMessage = errorMessage[:maxStoredErrorLen]
	}
	cmd, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET status = $2,
			error_code = $3,
			error_message = $4,
			retry_count = retry_count + 1,
			updated_at = NOW()
		WHERE document_id = $1 AND status = $5 AND deleted_at IS NULL
	`, documentID, string(StatusFailed), errorCode, errorMessage, string(StatusProcessing))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// SoftDeleteDocument marks a document deleted. The row survives for audit;
// listings and lookups stop returning it. Idempotent deletes return
// ErrNotFound on the second call so the handler can report it.
func (s *Store) SoftDeleteDocument(ctx context.Context, orgID, documentID uuid.UUID) (Document, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE documents
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE org_id = $1 AND document_id = $2 AND deleted_at IS NULL
		RETURNING *
	`, orgID, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		doc         Document
		status      string
		chunksCount pgtype.Int4
		errMessage  pgtype.Text
		errCode     pgtype.Text
		processedAt pgtype.Timestamptz
		deletedAt   pgtype.Timestamptz
		uploadedAt  time.Time
		updatedAt   time.Time
	)
	err := row.Scan(
		&doc.ID,
		&doc.OrgID,
		&doc.UploadedBy,
		&doc.Filename,
		&doc.SanitizedFilename,
		&doc.ContentType,
		&doc.FileSize,
		&doc.StorageKey,
		&status,
		&chunksCount,
		&errMessage,
		&errCode,
		&doc.RetryCount,
		&uploadedAt,
		&processedAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Status = DocumentStatus(status)
	doc.ChunksCount = intPtr(chunksCount)
	doc.ErrorMessage = textPtr(errMessage)
	doc.ErrorCode = textPtr(errCode)
	doc.UploadedAt = uploadedAt
	doc.ProcessedAt = timePtr(processedAt)
	doc.UpdatedAt = updatedAt
	doc.DeletedAt = timePtr(deletedAt)
	return doc, nil
}
