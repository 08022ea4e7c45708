/*
Package transfer decides whether a tenant may relocate to another unit.

PURPOSE:
  A tenant under an active rent contract can ask to move to a different,
  available unit. The request is gated by three independent checks run
  against the tenant's current ledger:

    similarUnitAvailable  the requested unit is available
    noLatePayments        nothing unpaid whose due day has passed
    allInstallmentsPaid   everything due up to today is paid

  The evaluator is read-only and is re-run at approval time; a snapshot
  stored on the request is informative, never trusted.

SEE ALSO:
  - request.go: TransferRequest and its transitions
  - engine/transfers.go: loads the booking and unit, persists requests
*/
package transfer

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/ledger"
)

// =============================================================================
// ELIGIBILITY
// =============================================================================

// Check names, in the order failures are reported.
const (
	CheckSimilarUnitAvailable = "similarUnitAvailable"
	CheckNoLatePayments       = "noLatePayments"
	CheckAllInstallmentsPaid  = "allInstallmentsPaid"
)

type PaymentLabel string

const (
	LabelOnTime PaymentLabel = "on_time"
	LabelLate   PaymentLabel = "late"
)

// PaymentRecord is the history projection of one paid installment.
type PaymentRecord struct {
	Sequence int          `json:"sequence"`
	DueDate  time.Time    `json:"due_date"`
	PaidAt   time.Time    `json:"paid_at"`
	Label    PaymentLabel `json:"label"`
	DaysLate int          `json:"days_late,omitempty"`
}

// Eligibility is the structured decision.
type Eligibility struct {
	SimilarUnitAvailable bool            `json:"similar_unit_available"`
	NoLatePayments       bool            `json:"no_late_payments"`
	AllInstallmentsPaid  bool            `json:"all_installments_paid"`
	Eligible             bool            `json:"eligible"`
	Failed               []string        `json:"failed,omitempty"`
	Message              string          `json:"message"`
	PaymentHistory       []PaymentRecord `json:"payment_history"`
	EvaluatedAt          time.Time       `json:"evaluated_at"`
}

var failureText = map[string]string{
	CheckSimilarUnitAvailable: "requested unit is not available",
	CheckNoLatePayments:       "there are overdue installments",
	CheckAllInstallmentsPaid:  "installments due so far are not all paid",
}

// Evaluate runs the three checks against the current ledger.
func Evaluate(l ledger.Ledger, unitAvailable bool, now time.Time) Eligibility {
	e := Eligibility{
		SimilarUnitAvailable: unitAvailable,
		NoLatePayments:       true,
		AllInstallmentsPaid:  true,
		PaymentHistory:       History(l),
		EvaluatedAt:          now,
	}
	for _, inst := range l {
		if inst.Open() && generic.DayBefore(inst.DueDate, now) {
			e.NoLatePayments = false
		}
		if inst.Status != ledger.StatusPaid && inst.Status != ledger.StatusCancelled && generic.OnOrBefore(inst.DueDate, now) {
			e.AllInstallmentsPaid = false
		}
	}

	if !e.SimilarUnitAvailable {
		e.Failed = append(e.Failed, CheckSimilarUnitAvailable)
	}
	if !e.NoLatePayments {
		e.Failed = append(e.Failed, CheckNoLatePayments)
	}
	if !e.AllInstallmentsPaid {
		e.Failed = append(e.Failed, CheckAllInstallmentsPaid)
	}
	e.Eligible = len(e.Failed) == 0
	e.Message = compose(e.Failed)
	return e
}

func compose(failed []string) string {
	if len(failed) == 0 {
		return "eligible for transfer"
	}
	parts := make([]string, len(failed))
	for i, f := range failed {
		parts[i] = fmt.Sprintf("%s: %s", f, failureText[f])
	}
	return "not eligible for transfer: " + strings.Join(parts, "; ")
}

// History labels every paid installment on time or late.
func History(l ledger.Ledger) []PaymentRecord {
	out := []PaymentRecord{}
	for _, inst := range l {
		if inst.Status != ledger.StatusPaid || inst.PaidAt == nil {
			continue
		}
		rec := PaymentRecord{Sequence: inst.Sequence, DueDate: inst.DueDate, PaidAt: *inst.PaidAt, Label: LabelOnTime}
		if !inst.PaidOnTime() {
			rec.Label = LabelLate
			rec.DaysLate = generic.DaysBetween(inst.DueDate, *inst.PaidAt)
		}
		out = append(out, rec)
	}
	return out
}
