package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

// memRepo is an in-memory store.Repository. txMu serializes transactions the way the
// payout row lock and the selection advisory lock do in Postgres.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	members   map[string]*memMember
	payouts   map[string]*domain.Payout
	prefs     map[string]*domain.PayoutPreference
	taxForms  map[string]bool
	batchRuns map[string]*domain.BatchResult
	auditLogs []domain.AuditLogEvent
	alerts    []domain.Alert

	ledger       int64
	ledgerErr    error
	factsErr     error
	prefErr      error
	insertErr    map[string]error
	auditLogErr  error
	selectionRun int
}

type memMember struct {
	member         domain.Member
	kycStatus      string
	subscription   string
	firstPaymentAt *time.Time
	paymentCount   int
	paymentTotal   int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		members:   map[string]*memMember{},
		payouts:   map[string]*domain.Payout{},
		prefs:     map[string]*domain.PayoutPreference{},
		taxForms:  map[string]bool{},
		batchRuns: map[string]*domain.BatchResult{},
		insertErr: map[string]error{},
	}
}

// addMember registers an active, verified, subscribed member whose first qualifying
// payment was made at firstPayment.
func (r *memRepo) addMember(id string, firstPayment time.Time, payments int) *memMember {
	fp := firstPayment
	m := &memMember{
		member: domain.Member{
			ID:               id,
			UserID:           "user-" + id,
			Email:            id + "@example.com",
			FullName:         "Member " + id,
			MembershipStatus: domain.MembershipActive,
			TenureStart:      firstPayment.AddDate(0, 0, -1),
		},
		kycStatus:      domain.KYCVerified,
		subscription:   domain.SubscriptionActive,
		firstPaymentAt: &fp,
		paymentCount:   payments,
		paymentTotal:   int64(payments) * 2500,
	}
	r.members[id] = m
	return m
}

func (r *memRepo) putPayout(p *domain.Payout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payouts[p.ID] = clonePayout(p)
}

func (r *memRepo) payout(id string) *domain.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePayout(r.payouts[id])
}

func (r *memRepo) memberStatus(id string) domain.MembershipStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[id].member.MembershipStatus
}

func (r *memRepo) auditActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.auditLogs))
	for _, e := range r.auditLogs {
		actions = append(actions, e.Action)
	}
	return actions
}

func clonePayout(p *domain.Payout) *domain.Payout {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	var out domain.Payout
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (r *memRepo) factsLocked() []domain.MemberFacts {
	facts := make([]domain.MemberFacts, 0, len(r.members))
	for _, m := range r.members {
		received := false
		for _, p := range r.payouts {
			if p.MemberID == m.member.ID && p.Status != domain.PayoutRejected && !p.CreatedAt.Before(m.member.TenureStart) {
				received = true
			}
		}
		facts = append(facts, domain.MemberFacts{
			MemberID:           m.member.ID,
			UserID:             m.member.UserID,
			MembershipStatus:   m.member.MembershipStatus,
			TenureStart:        m.member.TenureStart,
			SubscriptionStatus: m.subscription,
			FirstPaymentAt:     m.firstPaymentAt,
			PaymentCount:       m.paymentCount,
			PaymentTotal:       m.paymentTotal,
			HasReceivedPayout:  received,
		})
	}
	return facts
}

func (r *memRepo) LoadRankingFacts(ctx context.Context) ([]domain.MemberFacts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factsErr != nil {
		return nil, r.factsErr
	}
	return r.factsLocked(), nil
}

func (r *memRepo) SumSucceededPayments(ctx context.Context) (int64, error) {
	return r.ledger, r.ledgerErr
}

func (r *memRepo) CountCommittedPayouts(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payouts {
		if p.Status != domain.PayoutRejected {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) complianceLocked(memberID string) (*domain.ComplianceState, error) {
	m, ok := r.members[memberID]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	return &domain.ComplianceState{
		MemberID:           m.member.ID,
		UserID:             m.member.UserID,
		MembershipStatus:   m.member.MembershipStatus,
		KYCStatus:          m.kycStatus,
		SubscriptionStatus: m.subscription,
	}, nil
}

func (r *memRepo) GetComplianceState(ctx context.Context, memberID string) (*domain.ComplianceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complianceLocked(memberID)
}

// snapshot captures the mutable state a rollback restores.
type memSnapshot struct {
	statuses  map[string]domain.MembershipStatus
	payoutIDs map[string]bool
	batchKeys map[string]bool
}

func (r *memRepo) snapshotLocked() memSnapshot {
	s := memSnapshot{statuses: map[string]domain.MembershipStatus{}, payoutIDs: map[string]bool{}, batchKeys: map[string]bool{}}
	for id, m := range r.members {
		s.statuses[id] = m.member.MembershipStatus
	}
	for id := range r.payouts {
		s.payoutIDs[id] = true
	}
	for k := range r.batchRuns {
		s.batchKeys[k] = true
	}
	return s
}

func (r *memRepo) restoreLocked(s memSnapshot) {
	for id, status := range s.statuses {
		r.members[id].member.MembershipStatus = status
	}
	for id := range r.payouts {
		if !s.payoutIDs[id] {
			delete(r.payouts, id)
		}
	}
	for k := range r.batchRuns {
		if !s.batchKeys[k] {
			delete(r.batchRuns, k)
		}
	}
}

func (r *memRepo) RunSelection(ctx context.Context, fn func(ctx context.Context, tx store.SelectionTx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	r.selectionRun++
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if err := fn(ctx, &memSelectionTx{repo: r}); err != nil {
		r.mu.Lock()
		r.restoreLocked(snap)
		r.mu.Unlock()
		return err
	}
	return nil
}

type memSelectionTx struct {
	repo *memRepo
}

func (t *memSelectionTx) LoadRankingFacts(ctx context.Context) ([]domain.MemberFacts, error) {
	return t.repo.LoadRankingFacts(ctx)
}

func (t *memSelectionTx) LockMember(ctx context.Context, memberID string) (*domain.ComplianceState, error) {
	return t.repo.GetComplianceState(ctx, memberID)
}

func (t *memSelectionTx) InsertPayout(ctx context.Context, payout *domain.Payout) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if err := t.repo.insertErr[payout.MemberID]; err != nil {
		return err
	}
	t.repo.payouts[payout.ID] = clonePayout(payout)
	return nil
}

func (t *memSelectionTx) UpdateMemberStatus(ctx context.Context, memberID string, status domain.MembershipStatus) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	m, ok := t.repo.members[memberID]
	if !ok {
		return store.ErrMemberNotFound
	}
	m.member.MembershipStatus = status
	return nil
}

func (t *memSelectionTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx store.SelectionTx) error) error {
	t.repo.mu.Lock()
	snap := t.repo.snapshotLocked()
	t.repo.mu.Unlock()

	if err := fn(ctx, t); err != nil {
		t.repo.mu.Lock()
		t.repo.restoreLocked(snap)
		t.repo.mu.Unlock()
		return err
	}
	return nil
}

func (t *memSelectionTx) FindBatchRun(ctx context.Context, key string) (*domain.BatchResult, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	run, ok := t.repo.batchRuns[key]
	if !ok {
		return nil, store.ErrBatchRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (t *memSelectionTx) SaveBatchRun(ctx context.Context, result *domain.BatchResult) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	copied := *result
	t.repo.batchRuns[result.IdempotencyKey] = &copied
	return nil
}

func (r *memRepo) GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, store.ErrPayoutNotFound
	}
	return clonePayout(p), nil
}

func (r *memRepo) ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Payout, 0)
	for _, p := range r.payouts {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.MemberID != "" && p.MemberID != filter.MemberID {
			continue
		}
		out = append(out, *clonePayout(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdatePayout mirrors the Postgres implementation: lock, mutate a copy, check the
// append-only trail and the snapshot, then commit member writes and the payout together.
func (r *memRepo) UpdatePayout(ctx context.Context, payoutID string, fn store.PayoutMutation) (*domain.Payout, error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	before, err := r.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	working := clonePayout(before)
	tx := &memPayoutTx{repo: r, statuses: map[string]domain.MembershipStatus{}, tenure: map[string]time.Time{}}
	if err := fn(ctx, tx, working); err != nil {
		return nil, err
	}
	if err := domain.CheckAppendOnly(before.AuditTrail, working.AuditTrail); err != nil {
		return nil, err
	}
	if err := domain.CheckSnapshotUnchanged(before.EligibilitySnapshot, working.EligibilitySnapshot); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, status := range tx.statuses {
		r.members[id].member.MembershipStatus = status
	}
	for id, start := range tx.tenure {
		r.members[id].member.TenureStart = start
	}
	r.payouts[payoutID] = clonePayout(working)
	return working, nil
}

type memPayoutTx struct {
	repo     *memRepo
	statuses map[string]domain.MembershipStatus
	tenure   map[string]time.Time
}

func (t *memPayoutTx) GetMember(ctx context.Context, memberID string) (*domain.Member, error) {
	return t.repo.GetMember(ctx, memberID)
}

func (t *memPayoutTx) UpdateMemberStatus(ctx context.Context, memberID string, status domain.MembershipStatus) error {
	if _, err := t.repo.GetMember(ctx, memberID); err != nil {
		return err
	}
	t.statuses[memberID] = status
	return nil
}

func (t *memPayoutTx) SetTenureStart(ctx context.Context, memberID string, tenureStart time.Time) error {
	if _, err := t.repo.GetMember(ctx, memberID); err != nil {
		return err
	}
	t.tenure[memberID] = tenureStart
	return nil
}

func (r *memRepo) GetLatestCompletedPayout(ctx context.Context, memberID string) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Payout
	for _, p := range r.payouts {
		if p.MemberID != memberID || p.Status != domain.PayoutCompleted {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrPayoutNotFound
	}
	return clonePayout(latest), nil
}

func (r *memRepo) ListRemovalCandidates(ctx context.Context, now time.Time) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Payout, 0)
	for _, p := range r.payouts {
		s := p.Processing.RemovalSchedule
		if p.Status == domain.PayoutCompleted && s != nil && !s.Removed && !s.ScheduledFor.After(now) {
			out = append(out, *clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

func (r *memRepo) GetMember(ctx context.Context, memberID string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberID]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	member := m.member
	return &member, nil
}

func (r *memRepo) GetPayoutPreference(ctx context.Context, memberID string) (*domain.PayoutPreference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prefErr != nil {
		return nil, r.prefErr
	}
	p, ok := r.prefs[memberID]
	if !ok {
		return nil, store.ErrPreferenceNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *memRepo) HasValidTaxForm(ctx context.Context, memberID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taxForms[memberID], nil
}

func (r *memRepo) InsertAuditLog(ctx context.Context, event domain.AuditLogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.auditLogErr != nil {
		return r.auditLogErr
	}
	r.auditLogs = append(r.auditLogs, event)
	return nil
}

func (r *memRepo) InsertAlert(ctx context.Context, alert domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

// recordingSink captures notifications and status events.
type recordingSink struct {
	mu            sync.Mutex
	notifications []string
	statuses      []domain.PayoutStatusEvent
}

func (s *recordingSink) Notify(ctx context.Context, memberID, template string, data map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, memberID+":"+template)
}

func (s *recordingSink) StatusChanged(ctx context.Context, event domain.PayoutStatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, event)
}

func (s *recordingSink) notificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

type revenueStub struct {
	total int64
	err   error
	calls int
}

func (s *revenueStub) GetTotalRevenue(ctx context.Context) (int64, error) {
	s.calls++
	return s.total, s.err
}

type cancellerStub struct {
	mu      sync.Mutex
	err     error
	members []string
}

func (s *cancellerStub) CancelSubscription(ctx context.Context, memberID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, memberID)
	return s.err
}

type rendererStub struct {
	mu        sync.Mutex
	err       error
	templates []string
}

func (s *rendererStub) Render(ctx context.Context, template string, data any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, template)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("https://docs.example.com/%s/%d.pdf", template, len(s.templates)), nil
}

var errStub = errors.New("stub failure")

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testPayoutAmount      = int64(10_000_000)
	testRetentionFee      = int64(30_000)
	testApprovalThreshold = int64(10_000_000)
)

func testPolicy() PayoutPolicy {
	return PayoutPolicy{
		Eligibility: domain.EligibilityPolicy{
			LaunchDate:         time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			RevenueThreshold:   10_000_000,
			AgeThresholdMonths: 18,
			PayoutAmount:       testPayoutAmount,
		},
		PayoutAmount:      testPayoutAmount,
		RetentionFee:      testRetentionFee,
		ApprovalThreshold: testApprovalThreshold,
		Currency:          "USD",
		AutoSelectWinners: true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testHarness wires the engine components over memRepo with stub collaborators.
type testHarness struct {
	repo      *memRepo
	revenue   *revenueStub
	billing   *cancellerStub
	documents *rendererStub
	sink      *recordingSink
	cipher    *BankDetailsCipher
	now       time.Time
	engine    *Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cipher, err := NewBankDetailsCipher("test-secret")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	h := &testHarness{
		repo:      newMemRepo(),
		revenue:   &revenueStub{total: 25_000_000},
		billing:   &cancellerStub{},
		documents: &rendererStub{},
		sink:      &recordingSink{},
		cipher:    cipher,
		now:       testNow,
	}
	h.engine = NewEngine(EngineDeps{
		Repo:      h.repo,
		Revenue:   h.revenue,
		Billing:   h.billing,
		Documents: h.documents,
		Cipher:    cipher,
		Policy:    testPolicy(),
		Logger:    discardLogger(),
		Now:       func() time.Time { return h.now },
	})
	h.swapSink(h.sink)
	return h
}

// swapSink replaces the broker sink on every component that emits events.
func (h *testHarness) swapSink(sink EventSink) {
	h.engine.Selector.events = sink
	h.engine.Approvals.events = sink
	h.engine.Payments.events = sink
	h.engine.Lifecycle.events = sink
}

// pendingPayout stores a pending payout for memberID with the given approval threshold.
func (h *testHarness) pendingPayout(id, memberID string, amount, threshold int64) *domain.Payout {
	p := domain.NewPayout(domain.NewPayoutParams{
		ID:                id,
		MemberID:          memberID,
		UserID:            "user-" + memberID,
		Amount:            amount,
		Currency:          "USD",
		ApprovalThreshold: threshold,
		Snapshot:          domain.EligibilitySnapshot{IsEligible: true, ComputedAt: h.now},
		Rank:              1,
		CreatedBy:         "admin-1",
		CreatedAt:         h.now,
	})
	h.repo.putPayout(p)
	return p
}

func adminActor(id string) Actor {
	return Actor{ID: id, Roles: []string{domain.RoleAdmin}}
}
