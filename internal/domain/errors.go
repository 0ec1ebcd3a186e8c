/**
 * @description
 * This file defines the typed error taxonomy for the ledger core. Every
 * failure surfaced by the service is one of these types, so handlers and
 * callers can map them to transport-level responses without string matching.
 *
 * @notes
 * - LimitExceededError always carries the specific rule that was violated
 *   (per-transaction, daily, monthly, pending-count).
 * - These are business errors; infrastructure failures (database, broker)
 *   are returned as-is, wrapped with fmt.Errorf("%w").
 */

package domain

import (
	"fmt"
	"strconv"
)

// ValidationError reports malformed input, rejected before any read.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NotFoundError reports an unknown account, card, transfer, or other entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
	}
	return e.Entity + " not found"
}

// LimitRule names the specific limit an operation violated.
type LimitRule string

const (
	LimitRulePerTransaction LimitRule = "per_transaction"
	LimitRuleDaily          LimitRule = "daily"
	LimitRuleMonthly        LimitRule = "monthly"
	LimitRulePendingCount   LimitRule = "pending_count"
)

// LimitExceededError reports a tier-limit violation. The Message is the
// client-facing decline reason; Rule and Limit identify the rule machine-side.
type LimitExceededError struct {
	Rule    LimitRule
	Limit   int64 // cents, or a count for pending_count
	Message string
}

func (e *LimitExceededError) Error() string { return e.Message }

// InsufficientFundsError reports a balance shortfall on a debit.
type InsufficientFundsError struct {
	AccountID string
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string { return "Insufficient funds" }

// PolicyDeclineError reports a hard policy decline, such as international or
// online transactions being disabled on a card.
type PolicyDeclineError struct {
	Reason string
}

func (e *PolicyDeclineError) Error() string { return e.Reason }

// SegregationOfDutiesError reports that the approver of an action is the same
// person who submitted it. This fails regardless of the approver's role.
type SegregationOfDutiesError struct {
	ActorID string
}

func (e *SegregationOfDutiesError) Error() string {
	return "Segregation of Duties violation: submitter cannot approve own submission"
}

// StateConflictError reports an operation that is invalid for the entity's
// current state (for example, processing an already-completed transfer).
type StateConflictError struct {
	Entity  string
	ID      string
	State   string
	Message string
}

func (e *StateConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s is in state %q; operation not allowed", e.Entity, e.ID, e.State)
}

// RateLimitedError reports that an account has exceeded its request budget
// for an operation window.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// dollars formats a cent amount the way product copy does: whole dollars when
// even, two decimals otherwise.
func dollars(cents int64) string {
	if cents%100 == 0 {
		return strconv.FormatInt(cents/100, 10)
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func itoa(n int) string { return strconv.Itoa(n) }
