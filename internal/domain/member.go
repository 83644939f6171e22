/**
 * @description
 * Member-side facts the payout engine reads. The member record is owned elsewhere;
 * the engine only ever changes its membership status and tenure start.
 */
package domain

import "time"

// MembershipStatus is the queue status of a membership row.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipWon     MembershipStatus = "won"
	MembershipPaid    MembershipStatus = "paid"
	MembershipRemoved MembershipStatus = "removed"
)

// KYCVerified is the only compliance status that allows a payout.
const KYCVerified = "verified"

// Subscription statuses reported by the billing service.
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// IsActiveSubscription reports whether a subscription status counts as paying.
func IsActiveSubscription(status string) bool {
	return status == SubscriptionActive || status == SubscriptionTrialing
}

// Member is the lookup view of a member used for notifications and lifecycle changes.
type Member struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Email            string           `json:"email"`
	FullName         string           `json:"full_name"`
	MembershipStatus MembershipStatus `json:"membership_status"`
	TenureStart      time.Time        `json:"tenure_start"`
}

// ComplianceState is what the selector re-checks right before committing a payout.
type ComplianceState struct {
	MemberID           string           `json:"member_id"`
	UserID             string           `json:"user_id"`
	MembershipStatus   MembershipStatus `json:"membership_status"`
	KYCStatus          string           `json:"kyc_status"`
	SubscriptionStatus string           `json:"subscription_status"`
}

// ValidationResult is the itemized outcome of a compliance re-check.
type ValidationResult struct {
	MemberID string   `json:"member_id"`
	Valid    bool     `json:"valid"`
	Reasons  []string `json:"reasons"`
}

// ValidateCompliance returns one reason per failed prerequisite.
func ValidateCompliance(state ComplianceState) ValidationResult {
	result := ValidationResult{MemberID: state.MemberID, Reasons: []string{}}

	if state.KYCStatus != KYCVerified {
		kyc := state.KYCStatus
		if kyc == "" {
			kyc = "missing"
		}
		result.Reasons = append(result.Reasons, "kyc verification not complete (status: "+kyc+")")
	}
	if !IsActiveSubscription(state.SubscriptionStatus) {
		sub := state.SubscriptionStatus
		if sub == "" {
			sub = "none"
		}
		result.Reasons = append(result.Reasons, "subscription not active (status: "+sub+")")
	}

	result.Valid = len(result.Reasons) == 0
	return result
}

// PaymentMethod is how a payout leaves the system.
type PaymentMethod string

const (
	PaymentMethodACH   PaymentMethod = "ach"
	PaymentMethodCheck PaymentMethod = "check"
)

// MailingAddress is the destination for check payouts.
type MailingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsComplete reports whether the address can be printed on a check.
func (a MailingAddress) IsComplete() bool {
	return a.Line1 != "" && a.City != "" && a.State != "" && a.PostalCode != ""
}

// BankDetails are the decrypted ACH routing details.
type BankDetails struct {
	AccountHolderName string `json:"account_holder_name"`
	BankName          string `json:"bank_name"`
	RoutingNumber     string `json:"routing_number"`
	AccountNumber     string `json:"account_number"`
	AccountType       string `json:"account_type"`
}

// PayoutPreference is the member's stored payout destination.
type PayoutPreference struct {
	MemberID             string          `json:"member_id"`
	Method               PaymentMethod   `json:"method"`
	EncryptedBankDetails string          `json:"-"`
	MailingAddress       *MailingAddress `json:"mailing_address,omitempty"`
}
