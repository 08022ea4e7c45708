package rewards

import "github.com/shopspring/decimal"

// Progress is the read-only view shown to the tenant.
type Progress struct {
	Status          Status          `json:"status"`
	PaymentsOnTime  int             `json:"payments_on_time"`
	TotalPayments   int             `json:"total_payments"`
	Remaining       int             `json:"remaining"`
	PercentComplete decimal.Decimal `json:"percent_complete"`
	Eligible        bool            `json:"eligible"`
	Reason          string          `json:"reason,omitempty"`
}

// ProgressOf projects a reward into its progress view.
func ProgressOf(r CommitmentReward) Progress {
	remaining := r.TotalPayments - r.PaymentsOnTime
	if remaining < 0 {
		remaining = 0
	}
	pct := decimal.Zero
	if r.TotalPayments > 0 {
		pct = decimal.NewFromInt(int64(r.PaymentsOnTime)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(r.TotalPayments))).
			Round(1)
	}
	return Progress{
		Status:          r.Status,
		PaymentsOnTime:  r.PaymentsOnTime,
		TotalPayments:   r.TotalPayments,
		Remaining:       remaining,
		PercentComplete: pct,
		Eligible:        r.Eligible,
		Reason:          r.ForfeitureReason,
	}
}
