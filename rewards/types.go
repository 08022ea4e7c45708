/*
Package rewards tracks the commitment reward of a rent contract.

PURPOSE:
  A tenant who pays every installment of a rent contract on time earns a
  loyalty reward. The reward's state is derived purely from the payment
  events recorded against the contract; nothing else can move it.

STATUS FLOW:
  ┌─────────┐  all payments on time   ┌────────┐  owner claims  ┌─────────┐
  │ earning │ ──────────────────────▶ │ earned │ ─────────────▶ │ claimed │
  └─────────┘                         └────────┘                └─────────┘
       │ first late or missed payment
       ▼
  ┌───────────┐
  │ forfeited │
  └───────────┘

  forfeited and claimed are terminal. earned is reachable only from
  earning, forfeited only from earning.

COUNTERS:
  PaymentsOnTime, LatePayments and MissedPayments keep counting after the
  reward is forfeited so the history stays truthful; they just no longer
  move the status. A claimed reward accepts nothing.

SEE ALSO:
  - tracker.go: RecordPayment, RecordMissedPayment, Claim, Forfeit
  - progress.go: read-only progress projection
  - engine/rewards.go: feeds ledger payments into the tracker
*/
package rewards

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/generic"
)

// =============================================================================
// COMMITMENT REWARD
// =============================================================================

type Status string

const (
	StatusEarning   Status = "earning"
	StatusEarned    Status = "earned"
	StatusClaimed   Status = "claimed"
	StatusForfeited Status = "forfeited"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusClaimed || s == StatusForfeited }

const (
	ReasonPaidLate           = "paid after due date"
	ReasonMissed             = "one or more payments missed"
	ReasonContractCancelled  = "contract cancelled"
	ReasonContractTerminated = "contract terminated"
)

type Outcome string

const (
	OutcomeOnTime Outcome = "on_time"
	OutcomeLate   Outcome = "late"
	OutcomeMissed Outcome = "missed"
)

// HistoryEntry is one payment event recorded against the reward.
type HistoryEntry struct {
	DueDate    time.Time       `json:"due_date"`
	PaidDate   *time.Time      `json:"paid_date,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Outcome    Outcome         `json:"outcome"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// CommitmentReward is 1:1 with a rent contract.
type CommitmentReward struct {
	ID               string         `json:"id"`
	Version          int64          `json:"version"`
	ContractID       string         `json:"contract_id"`
	OwnerID          string         `json:"owner_id"`
	TotalPayments    int            `json:"total_payments"`
	PaymentsOnTime   int            `json:"payments_on_time"`
	LatePayments     int            `json:"late_payments"`
	MissedPayments   int            `json:"missed_payments"`
	Status           Status         `json:"status"`
	Eligible         bool           `json:"eligible"`
	EarnedAt         *time.Time     `json:"earned_at,omitempty"`
	ForfeitedAt      *time.Time     `json:"forfeited_at,omitempty"`
	ClaimedAt        *time.Time     `json:"claimed_at,omitempty"`
	ForfeitureReason string         `json:"forfeiture_reason,omitempty"`
	History          []HistoryEntry `json:"history"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (r CommitmentReward) DocumentID() string     { return r.ID }
func (r CommitmentReward) DocumentVersion() int64 { return r.Version }
func (r CommitmentReward) WithVersion(v int64) CommitmentReward {
	r.Version = v
	return r
}

var _ generic.Document[CommitmentReward] = CommitmentReward{}

// IDForContract derives the reward id, which makes the reward unique per contract.
func IDForContract(contractID string) string { return "rwd-" + contractID }

var (
	ErrRewardClosed = fmt.Errorf("%w: reward is closed", generic.ErrConflict)
	ErrNotEarned    = fmt.Errorf("%w: reward has not been earned", generic.ErrConflict)
	ErrNotOwner     = fmt.Errorf("%w: only the reward owner may claim it", generic.ErrAuthorization)
)

// New starts an earning reward for a contract with total expected payments.
func New(contractID, ownerID string, totalPayments int, now time.Time) (CommitmentReward, error) {
	if totalPayments <= 0 {
		return CommitmentReward{}, generic.Invalid("reward", "total payments must be positive, got %d", totalPayments)
	}
	return CommitmentReward{
		ID:            IDForContract(contractID),
		ContractID:    contractID,
		OwnerID:       ownerID,
		TotalPayments: totalPayments,
		Status:        StatusEarning,
		Eligible:      true,
		History:       []HistoryEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
