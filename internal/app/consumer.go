/**
 * @description
 * Consumer for partner-bank settlement events. The partner publishes status
 * updates for refund transfers (IRS acceptance, funds release, completion,
 * rejection) to the broker; this consumer maps them onto the refund
 * transfer's workflow ladder. Updates for unknown transfers and replays of
 * already-applied statuses are acknowledged, so the partner can redeliver
 * without side effects.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rosstax/ledger-service/internal/domain"
)

// PartnerStatusEvent is the payload published by the partner-bank
// integration for refund transfer settlement updates.
type PartnerStatusEvent struct {
	TransferID       string `json:"transfer_id"`
	PartnerReference string `json:"partner_reference"`
	Status           string `json:"status"`
	Detail           string `json:"detail,omitempty"`
}

type PartnerStatusConsumer struct {
	service *Service
}

func NewPartnerStatusConsumer(service *Service) *PartnerStatusConsumer {
	return &PartnerStatusConsumer{service: service}
}

// HandleMessage processes one delivery. Returning true acknowledges the
// message; false re-queues it for retry.
func (c *PartnerStatusConsumer) HandleMessage(body []byte) bool {
	var event PartnerStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=partner_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}

	if event.TransferID == "" {
		log.Printf("level=warn component=partner_consumer msg=\"missing transfer id in event\" partner_reference=%s", event.PartnerReference)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=partner_consumer msg=\"processing error\" transfer_id=%s err=%v", event.TransferID, err)
		return false
	}
	return true
}

func (c *PartnerStatusConsumer) processEvent(ctx context.Context, event PartnerStatusEvent) error {
	target, ok := normalizePartnerStatus(event.Status)
	if !ok {
		log.Printf("level=warn component=partner_consumer msg=\"unknown partner status; dropping\" transfer_id=%s status=%q", event.TransferID, event.Status)
		return nil
	}

	transfer, _, err := c.service.GetRefundTransfer(ctx, event.TransferID)
	if err != nil {
		var notFoundErr *domain.NotFoundError
		if errors.As(err, &notFoundErr) {
			log.Printf("level=warn component=partner_consumer msg=\"no refund transfer for event; acknowledging\" transfer_id=%s", event.TransferID)
			return nil
		}
		return fmt.Errorf("lookup refund transfer: %w", err)
	}

	// Replays of the current or an earlier milestone are no-ops.
	if transfer.Status == target || domain.TerminalRefundStatus(transfer.Status) {
		return nil
	}

	// Rejections ride the same transition-table path as the settlement
	// milestones; the supervisor permission check is for humans, not for the
	// partner feed behind the broker.
	detail := optionalString(event.Detail)
	if target == domain.RefundStatusRejected && detail == nil {
		reason := "Rejected by partner bank"
		detail = &reason
	}

	_, err = c.service.AdvanceRefundStatus(ctx, event.TransferID, target, "partner_bank", detail)
	if err != nil {
		// Out-of-order delivery: an invalid jump is not retryable.
		var stateErr *domain.StateConflictError
		if errors.As(err, &stateErr) {
			log.Printf("level=warn component=partner_consumer msg=\"out-of-order status update; dropping\" transfer_id=%s from=%s to=%s", event.TransferID, transfer.Status, target)
			return nil
		}
	}
	return err
}

// normalizePartnerStatus maps the partner's status vocabulary onto the refund
// transfer workflow.
func normalizePartnerStatus(status string) (domain.RefundTransferStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "accepted", "irs_accepted", "acknowledged":
		return domain.RefundStatusIRSAccepted, true
	case "funded", "funds_released", "released":
		return domain.RefundStatusFundsReleased, true
	case "completed", "settled", "success", "successful":
		return domain.RefundStatusCompleted, true
	case "rejected", "failed", "returned":
		return domain.RefundStatusRejected, true
	}
	return "", false
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
