package models

import (
	"fmt"

	"github.com/mmdatafocus/serviceengine_backend/utils"
)

// invoiceTransitions lists every legal status change. A status missing from
// the map as a key has no outgoing transitions.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:         {InvoiceStatusUnpaid, InvoiceStatusCancelled},
	InvoiceStatusUnpaid:        {InvoiceStatusDraft, InvoiceStatusCancelled},
	InvoiceStatusPaid:          {InvoiceStatusRefunded},
	InvoiceStatusRefunded:      {},
	InvoiceStatusCancelled:     {InvoiceStatusDraft, InvoiceStatusUnpaid},
	InvoiceStatusPartiallyPaid: {InvoiceStatusPaid, InvoiceStatusRefunded, InvoiceStatusCancelled},
}

// AllowedInvoiceTransitions returns a copy of the targets reachable from s.
func AllowedInvoiceTransitions(s InvoiceStatus) []InvoiceStatus {
	targets := invoiceTransitions[s]
	out := make([]InvoiceStatus, len(targets))
	copy(out, targets)
	return out
}

// CanTransitionInvoice treats from == to as a no-op that is always allowed.
func CanTransitionInvoice(from InvoiceStatus, to InvoiceStatus) bool {
	if !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	for _, t := range invoiceTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func ValidateInvoiceTransition(from InvoiceStatus, to InvoiceStatus) error {
	if !to.IsValid() {
		return utils.NewFieldError("status", "The selected status is invalid.")
	}
	if CanTransitionInvoice(from, to) {
		return nil
	}
	return utils.NewTransitionError(
		"status",
		fmt.Sprintf("Cannot transition from %s to %s.", from.Label(), to.Label()),
		from.Label(),
		to.Label(),
	)
}
