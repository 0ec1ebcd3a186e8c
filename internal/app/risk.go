/**
 * @description
 * Fraud risk scoring for P2P transfers. The scorer is additive and capped at
 * 100: larger amounts, thin sender history, unresolved recipients, and
 * overnight initiation each add points. Transfers scoring above the approval
 * threshold (or exceeding the large-amount ceiling) are held for manual
 * review instead of processing immediately.
 */

package app

import "time"

const (
	// Score contributions.
	riskAmountOver1000  = 20
	riskAmountOver5000  = 30
	riskAmountOver10000 = 40
	riskThinHistory     = 15
	riskNewRecipient    = 25
	riskOvernight       = 10

	riskScoreCap = 100

	// Transfers scoring above this require manual approval.
	approvalScoreThreshold = 70
	// Transfers above this amount (cents) require approval regardless of score.
	approvalAmountThreshold int64 = 5000_00

	// Senders with fewer lifetime transfers than this are considered new.
	thinHistoryCount = 5
)

// RiskInput bundles the scorer's signals.
type RiskInput struct {
	Amount        int64 // in cents
	LifetimeCount int
	RecipientNew  bool
	InitiatedAt   time.Time
}

// ScoreTransfer computes the fraud score for a prospective transfer.
func ScoreTransfer(input RiskInput) int {
	score := 0

	if input.Amount > 1000_00 {
		score += riskAmountOver1000
	}
	if input.Amount > 5000_00 {
		score += riskAmountOver5000
	}
	if input.Amount > 10000_00 {
		score += riskAmountOver10000
	}
	if input.LifetimeCount < thinHistoryCount {
		score += riskThinHistory
	}
	if input.RecipientNew {
		score += riskNewRecipient
	}
	// Midnight through 4:59 local time.
	if hour := input.InitiatedAt.Hour(); hour >= 0 && hour < 5 {
		score += riskOvernight
	}

	if score > riskScoreCap {
		score = riskScoreCap
	}
	return score
}

// RequiresApproval reports whether a transfer with the given score and amount
// must be held for manual review.
func RequiresApproval(score int, amount int64) bool {
	return score > approvalScoreThreshold || amount > approvalAmountThreshold
}

// RiskBand buckets a score for reporting: low, medium, or high.
func RiskBand(score int) string {
	switch {
	case score > approvalScoreThreshold:
		return "high"
	case score >= 40:
		return "medium"
	default:
		return "low"
	}
}
