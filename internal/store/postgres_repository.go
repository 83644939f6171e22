/**
 * @description
 * PostgreSQL implementation of the Repository interface using pgx.
 */
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tenure/payout-service/internal/domain"
)

// queryer is satisfied by both the pool and an open transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the production Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const rankingFactsQuery = `
	SELECT
		m.id,
		m.user_id,
		m.membership_status,
		m.tenure_start,
		COALESCE(s.status, '') AS subscription_status,
		pay.first_payment_at,
		COALESCE(pay.payment_count, 0),
		COALESCE(pay.payment_total, 0),
		EXISTS (
			SELECT 1
			FROM payouts po
			WHERE po.member_id = m.id
			  AND po.status <> 'rejected'
			  AND po.created_at >= m.tenure_start
		) AS has_received_payout
	FROM memberships m
	LEFT JOIN LATERAL (
		SELECT status
		FROM subscriptions
		WHERE user_id = m.user_id
		ORDER BY created_at DESC
		LIMIT 1
	) s ON TRUE
	LEFT JOIN LATERAL (
		SELECT
			MIN(paid_at) AS first_payment_at,
			COUNT(*)::INT AS payment_count,
			SUM(amount)::BIGINT AS payment_total
		FROM member_payments
		WHERE member_id = m.id
		  AND status = 'succeeded'
		  AND paid_at >= m.tenure_start
	) pay ON TRUE
	WHERE m.membership_status = 'active'
`

func loadRankingFacts(ctx context.Context, q queryer) ([]domain.MemberFacts, error) {
	rows, err := q.Query(ctx, rankingFactsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query ranking facts: %w", err)
	}
	defer rows.Close()

	var facts []domain.MemberFacts
	for rows.Next() {
		var f domain.MemberFacts
		var status string
		if err := rows.Scan(
			&f.MemberID,
			&f.UserID,
			&status,
			&f.TenureStart,
			&f.SubscriptionStatus,
			&f.FirstPaymentAt,
			&f.PaymentCount,
			&f.PaymentTotal,
			&f.HasReceivedPayout,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ranking facts: %w", err)
		}
		f.MembershipStatus = domain.MembershipStatus(status)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// LoadRankingFacts reads the ranking inputs in one consistent read-only snapshot.
func (r *PostgresRepository) LoadRankingFacts(ctx context.Context) ([]domain.MemberFacts, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin ranking snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	facts, err := loadRankingFacts(ctx, tx)
	if err != nil {
		return nil, err
	}
	return facts, tx.Commit(ctx)
}

// SumSucceededPayments is the local ledger's view of program revenue.
func (r *PostgresRepository) SumSucceededPayments(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, "SELECT COALESCE(SUM(amount), 0)::BIGINT FROM member_payments WHERE status = 'succeeded'").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum payments: %w", err)
	}
	return total, nil
}

// CountCommittedPayouts counts payouts that were not rejected.
func (r *PostgresRepository) CountCommittedPayouts(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*)::INT FROM payouts WHERE status <> 'rejected'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payouts: %w", err)
	}
	return count, nil
}

const complianceQuery = `
	SELECT m.id, m.user_id, m.membership_status, COALESCE(u.kyc_status, ''), COALESCE(s.status, '')
	FROM memberships m
	JOIN users u ON u.id = m.user_id
	LEFT JOIN LATERAL (
		SELECT status
		FROM subscriptions
		WHERE user_id = m.user_id
		ORDER BY created_at DESC
		LIMIT 1
	) s ON TRUE
	WHERE m.id = $1
`

func scanCompliance(row pgx.Row) (*domain.ComplianceState, error) {
	var state domain.ComplianceState
	var status string
	if err := row.Scan(&state.MemberID, &state.UserID, &status, &state.KYCStatus, &state.SubscriptionStatus); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	state.MembershipStatus = domain.MembershipStatus(status)
	return &state, nil
}

// GetComplianceState reads KYC and subscription status for a member.
func (r *PostgresRepository) GetComplianceState(ctx context.Context, memberID string) (*domain.ComplianceState, error) {
	return scanCompliance(r.db.QueryRow(ctx, complianceQuery, memberID))
}

const memberQuery = `
	SELECT m.id, m.user_id, COALESCE(u.email, ''), COALESCE(u.full_name, ''), m.membership_status, m.tenure_start
	FROM memberships m
	JOIN users u ON u.id = m.user_id
	WHERE m.id = $1
`

func getMember(ctx context.Context, q queryer, memberID string) (*domain.Member, error) {
	var m domain.Member
	var status string
	err := q.QueryRow(ctx, memberQuery, memberID).Scan(
		&m.ID,
		&m.UserID,
		&m.Email,
		&m.FullName,
		&status,
		&m.TenureStart,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	m.MembershipStatus = domain.MembershipStatus(status)
	return &m, nil
}

// GetMember looks up a member with contact details.
func (r *PostgresRepository) GetMember(ctx context.Context, memberID string) (*domain.Member, error) {
	return getMember(ctx, r.db, memberID)
}

func updateMemberStatus(ctx context.Context, q queryer, memberID string, status domain.MembershipStatus) error {
	tag, err := q.Exec(ctx, "UPDATE memberships SET membership_status = $1, updated_at = NOW() WHERE id = $2", string(status), memberID)
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// GetPayoutPreference reads the member's payout method and destination.
func (r *PostgresRepository) GetPayoutPreference(ctx context.Context, memberID string) (*domain.PayoutPreference, error) {
	query := `
		SELECT member_id, payment_method, encrypted_bank_details, mailing_address
		FROM member_payout_preferences
		WHERE member_id = $1
	`
	var pref domain.PayoutPreference
	var method string
	var encrypted *string
	var address []byte
	err := r.db.QueryRow(ctx, query, memberID).Scan(&pref.MemberID, &method, &encrypted, &address)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPreferenceNotFound
		}
		return nil, err
	}
	pref.Method = domain.PaymentMethod(method)
	if encrypted != nil {
		pref.EncryptedBankDetails = *encrypted
	}
	if len(address) > 0 {
		var addr domain.MailingAddress
		if err := json.Unmarshal(address, &addr); err != nil {
			return nil, fmt.Errorf("failed to decode mailing address: %w", err)
		}
		pref.MailingAddress = &addr
	}
	return &pref, nil
}

// HasValidTaxForm reports whether a verified, unexpired tax form is on file.
func (r *PostgresRepository) HasValidTaxForm(ctx context.Context, memberID string, at time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM member_tax_forms
			WHERE member_id = $1
			  AND status = 'verified'
			  AND (expires_at IS NULL OR expires_at > $2)
		)
	`
	var ok bool
	if err := r.db.QueryRow(ctx, query, memberID, at).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check tax form: %w", err)
	}
	return ok, nil
}

// InsertAuditLog writes a system-wide audit record.
func (r *PostgresRepository) InsertAuditLog(ctx context.Context, event domain.AuditLogEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	query := `
		INSERT INTO system_audit_logs (id, action, actor, resource, success, error_message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
	`
	_, err = r.db.Exec(ctx, query, uuid.New(), event.Action, event.Actor, event.Resource, event.Success, event.Error, details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// InsertAlert writes an admin alert.
func (r *PostgresRepository) InsertAlert(ctx context.Context, alert domain.Alert) error {
	data, err := json.Marshal(alert.Data)
	if err != nil {
		return fmt.Errorf("failed to encode alert data: %w", err)
	}
	query := `
		INSERT INTO admin_alerts (id, alert_type, severity, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.Exec(ctx, query, uuid.New(), alert.Type, alert.Severity, alert.Title, alert.Message, data, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}
