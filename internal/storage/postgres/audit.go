package postgres

import (
	"context"

	"github.com/google/uuid"
)

// InsertAudit appends an audit entry. Audit writes happen before the response
// is sent for security-relevant events, so failures propagate to the caller.
func (s *Store) InsertAudit(ctx context.Context, entry AuditEntry) error {
	details, err := mustJSONB(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (org_id, user_id, action, resource, status, details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.OrgID,
		entry.UserID,
		entry.Action,
		entry.Resource,
		entry.Status,
		string(details),
		entry.IPAddress,
		entry.UserAgent,
	)
	return err
}

// ListAuditByOrg returns recent audit entries for an organization, newest
// first.
func (s *Store) ListAuditByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, user_id, action, resource, status, details, ip_address, user_agent, created_at
		FROM audit_log
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.UserID, &e.Action, &e.Resource, &e.Status, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		m, err := jsonStringMap(details)
		if err != nil {
			return nil, err
		}
		e.Details = m
		out = append(out, e)
	}
	return out, rows.Err()
}
