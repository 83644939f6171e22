package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tenure/payout-service/internal/domain"
)

const payoutColumns = `
	id, member_id, user_id, amount, currency, status,
	eligibility_snapshot, approval_workflow, processing, audit_trail,
	schema_version, created_by, created_at, updated_at
`

func scanPayout(row pgx.Row) (*domain.Payout, error) {
	var (
		p          domain.Payout
		status     string
		snapshot   []byte
		workflow   []byte
		processing []byte
		audit      []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.MemberID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&status,
		&snapshot,
		&workflow,
		&processing,
		&audit,
		&p.SchemaVersion,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = domain.PayoutStatus(status)

	if err := decodeEmbedded(p.SchemaVersion, snapshot, &p.EligibilitySnapshot); err != nil {
		return nil, fmt.Errorf("payout %s eligibility_snapshot: %w", p.ID, err)
	}
	if err := decodeEmbedded(p.SchemaVersion, workflow, &p.Approval); err != nil {
		return nil, fmt.Errorf("payout %s approval_workflow: %w", p.ID, err)
	}
	if err := decodeEmbedded(p.SchemaVersion, processing, &p.Processing); err != nil {
		return nil, fmt.Errorf("payout %s processing: %w", p.ID, err)
	}
	if err := decodeEmbedded(p.SchemaVersion, audit, &p.AuditTrail); err != nil {
		return nil, fmt.Errorf("payout %s audit_trail: %w", p.ID, err)
	}
	return &p, nil
}

// decodeEmbedded reads one of the JSONB sub-records. Only the current schema is understood.
func decodeEmbedded(version int, raw []byte, dst any) error {
	if version != domain.PayoutSchemaVersion {
		return fmt.Errorf("unsupported schema version %d", version)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type encodedPayout struct {
	snapshot   []byte
	workflow   []byte
	processing []byte
	audit      []byte
	removalAt  *time.Time
	removed    bool
}

func encodePayout(p *domain.Payout) (*encodedPayout, error) {
	var (
		enc encodedPayout
		err error
	)
	if enc.snapshot, err = json.Marshal(p.EligibilitySnapshot); err != nil {
		return nil, fmt.Errorf("failed to encode eligibility snapshot: %w", err)
	}
	if enc.workflow, err = json.Marshal(p.Approval); err != nil {
		return nil, fmt.Errorf("failed to encode approval workflow: %w", err)
	}
	if enc.processing, err = json.Marshal(p.Processing); err != nil {
		return nil, fmt.Errorf("failed to encode processing record: %w", err)
	}
	if enc.audit, err = json.Marshal(p.AuditTrail); err != nil {
		return nil, fmt.Errorf("failed to encode audit trail: %w", err)
	}
	if s := p.Processing.RemovalSchedule; s != nil {
		at := s.ScheduledFor
		enc.removalAt = &at
		enc.removed = s.Removed
	}
	return &enc, nil
}

func insertPayout(ctx context.Context, q queryer, p *domain.Payout) error {
	enc, err := encodePayout(p)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payouts (
			id, member_id, user_id, amount, currency, status,
			eligibility_snapshot, approval_workflow, processing, audit_trail,
			schema_version, created_by, created_at, updated_at,
			removal_scheduled_for, membership_removed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = q.Exec(ctx, query,
		p.ID,
		p.MemberID,
		p.UserID,
		p.Amount,
		p.Currency,
		string(p.Status),
		enc.snapshot,
		enc.workflow,
		enc.processing,
		enc.audit,
		p.SchemaVersion,
		p.CreatedBy,
		p.CreatedAt,
		p.UpdatedAt,
		enc.removalAt,
		enc.removed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

// GetPayout fetches one payout.
func (r *PostgresRepository) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id = $1", payoutID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListPayouts returns payouts newest first, filtered by status and member.
func (r *PostgresRepository) ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.MemberID != "" {
		args = append(args, filter.MemberID)
		where = append(where, fmt.Sprintf("member_id = $%d", len(args)))
	}

	query := "SELECT " + payoutColumns + " FROM payouts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.queryPayouts(ctx, query, args...)
}

// GetLatestCompletedPayout returns the member's most recent completed payout.
func (r *PostgresRepository) GetLatestCompletedPayout(ctx context.Context, memberID string) (*domain.Payout, error) {
	query := "SELECT " + payoutColumns + ` FROM payouts
		WHERE member_id = $1 AND status = 'completed'
		ORDER BY updated_at DESC
		LIMIT 1`
	p, err := scanPayout(r.db.QueryRow(ctx, query, memberID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListRemovalCandidates returns completed payouts whose removal date has passed and
// whose membership has not been removed yet.
func (r *PostgresRepository) ListRemovalCandidates(ctx context.Context, now time.Time) ([]domain.Payout, error) {
	query := "SELECT " + payoutColumns + ` FROM payouts
		WHERE status = 'completed'
		  AND membership_removed = FALSE
		  AND removal_scheduled_for IS NOT NULL
		  AND removal_scheduled_for <= $1
		ORDER BY removal_scheduled_for`
	return r.queryPayouts(ctx, query, now)
}

func (r *PostgresRepository) queryPayouts(ctx context.Context, query string, args ...any) ([]domain.Payout, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	payouts := make([]domain.Payout, 0)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	return payouts, rows.Err()
}

// UpdatePayout locks the payout row, applies fn and persists the result in one transaction.
// The audit trail must only grow and the eligibility snapshot must not change.
func (r *PostgresRepository) UpdatePayout(ctx context.Context, payoutID string, fn PayoutMutation) (*domain.Payout, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPayout(tx.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE id = $1 FOR UPDATE", payoutID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}

	before := *p
	before.AuditTrail = append([]domain.AuditEntry(nil), p.AuditTrail...)

	if err := fn(ctx, &payoutTx{tx: tx}, p); err != nil {
		return nil, err
	}

	if err := domain.CheckAppendOnly(before.AuditTrail, p.AuditTrail); err != nil {
		return nil, err
	}
	if err := domain.CheckSnapshotUnchanged(before.EligibilitySnapshot, p.EligibilitySnapshot); err != nil {
		return nil, err
	}
	if p.ID != before.ID || p.MemberID != before.MemberID || p.Amount != before.Amount {
		return nil, fmt.Errorf("payout %s identity fields are immutable", payoutID)
	}

	enc, err := encodePayout(p)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE payouts
		SET status = $1,
		    approval_workflow = $2,
		    processing = $3,
		    audit_trail = $4,
		    removal_scheduled_for = $5,
		    membership_removed = $6,
		    updated_at = $7
		WHERE id = $8
	`
	if _, err := tx.Exec(ctx, query,
		string(p.Status),
		enc.workflow,
		enc.processing,
		enc.audit,
		enc.removalAt,
		enc.removed,
		p.UpdatedAt,
		p.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update payout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payout update: %w", err)
	}
	return p, nil
}

// payoutTx scopes member writes to the transaction holding the payout lock.
type payoutTx struct {
	tx pgx.Tx
}

func (t *payoutTx) GetMember(ctx context.Context, memberID string) (*domain.Member, error) {
	return getMember(ctx, t.tx, memberID)
}

func (t *payoutTx) UpdateMemberStatus(ctx context.Context, memberID string, status domain.MembershipStatus) error {
	return updateMemberStatus(ctx, t.tx, memberID, status)
}

func (t *payoutTx) SetTenureStart(ctx context.Context, memberID string, tenureStart time.Time) error {
	tag, err := t.tx.Exec(ctx, "UPDATE memberships SET tenure_start = $1, updated_at = NOW() WHERE id = $2", tenureStart, memberID)
	if err != nil {
		return fmt.Errorf("failed to update tenure start: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}
