package models

// InvoiceStatus is persisted as a small integer. Values 2 and 6 are not
// assigned to any state and are rejected like any other unknown value.
type InvoiceStatus int

const (
	InvoiceStatusDraft  InvoiceStatus = 0
	InvoiceStatusUnpaid InvoiceStatus = 1
	// 2: reserved, unused
	InvoiceStatusPaid      InvoiceStatus = 3
	InvoiceStatusRefunded  InvoiceStatus = 4
	InvoiceStatusCancelled InvoiceStatus = 5
	// 6: reserved, unused
	InvoiceStatusPartiallyPaid InvoiceStatus = 7
)

var invoiceStatusLabels = map[InvoiceStatus]string{
	InvoiceStatusDraft:         "Draft",
	InvoiceStatusUnpaid:        "Unpaid",
	InvoiceStatusPaid:          "Paid",
	InvoiceStatusRefunded:      "Refunded",
	InvoiceStatusCancelled:     "Cancelled",
	InvoiceStatusPartiallyPaid: "Partially Paid",
}

// ValidInvoiceStatuses in ascending order.
var ValidInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusUnpaid,
	InvoiceStatusPaid,
	InvoiceStatusRefunded,
	InvoiceStatusCancelled,
	InvoiceStatusPartiallyPaid,
}

func (s InvoiceStatus) IsValid() bool {
	_, ok := invoiceStatusLabels[s]
	return ok
}

func (s InvoiceStatus) Label() string {
	if label, ok := invoiceStatusLabels[s]; ok {
		return label
	}
	return "Unknown"
}

func (s InvoiceStatus) String() string {
	return s.Label()
}

type ProposalStatus int

const (
	ProposalStatusDraft    ProposalStatus = 0
	ProposalStatusSent     ProposalStatus = 1
	ProposalStatusSigned   ProposalStatus = 2
	ProposalStatusRejected ProposalStatus = 3
)

var proposalStatusLabels = map[ProposalStatus]string{
	ProposalStatusDraft:    "Draft",
	ProposalStatusSent:     "Sent",
	ProposalStatusSigned:   "Signed",
	ProposalStatusRejected: "Rejected",
}

func (s ProposalStatus) IsValid() bool {
	_, ok := proposalStatusLabels[s]
	return ok
}

func (s ProposalStatus) Label() string {
	if label, ok := proposalStatusLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// IsTerminal is true for Signed and Rejected; no transition leaves them.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalStatusSigned || s == ProposalStatusRejected
}

type OrderStatus int

const (
	OrderStatusUnpaid     OrderStatus = 0
	OrderStatusInProgress OrderStatus = 1
	OrderStatusCompleted  OrderStatus = 2
	OrderStatusCancelled  OrderStatus = 3
	OrderStatusOnHold     OrderStatus = 4
)

var orderStatusLabels = map[OrderStatus]string{
	OrderStatusUnpaid:     "Unpaid",
	OrderStatusInProgress: "In Progress",
	OrderStatusCompleted:  "Completed",
	OrderStatusCancelled:  "Cancelled",
	OrderStatusOnHold:     "On Hold",
}

func (s OrderStatus) Label() string {
	if label, ok := orderStatusLabels[s]; ok {
		return label
	}
	return "Unknown"
}

type SubscriptionStatus int

const (
	SubscriptionStatusInactive SubscriptionStatus = 0
	SubscriptionStatusActive   SubscriptionStatus = 1
)

type UserStatus int

const (
	UserStatusInactive UserStatus = 0
	UserStatusActive   UserStatus = 1
)

// RecurringPeriodType is the unit of a recurring plan: M(onth), W(eek) or D(ay).
type RecurringPeriodType string

const (
	RecurringPeriodMonth RecurringPeriodType = "M"
	RecurringPeriodWeek  RecurringPeriodType = "W"
	RecurringPeriodDay   RecurringPeriodType = "D"
)

func (t RecurringPeriodType) IsValid() bool {
	switch t {
	case RecurringPeriodMonth, RecurringPeriodWeek, RecurringPeriodDay:
		return true
	}
	return false
}

// TaxTypePercentage marks tax as a percentage; tax_percent mirrors tax for it.
const TaxTypePercentage = 2

type PaymentSystem string

const (
	PaymentSystemStripe PaymentSystem = "Stripe"
	PaymentSystemManual PaymentSystem = "Manual"
)

type LifecycleEventType string

const (
	LifecycleEventInvoicePaid    LifecycleEventType = "invoice.paid"
	LifecycleEventProposalSent   LifecycleEventType = "proposal.sent"
	LifecycleEventProposalSigned LifecycleEventType = "proposal.signed"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
