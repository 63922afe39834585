package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order snapshots service name, price and currency when created; later
// service edits never reach existing orders.
type Order struct {
	ID          string          `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId       string          `gorm:"type:char(36);index;not null" json:"org_id"`
	Number      string          `gorm:"size:20;index" json:"number"`
	UserId      string          `gorm:"type:char(36);index;not null" json:"user_id"`
	ServiceId   *string         `gorm:"type:char(36);index" json:"service_id"`
	ServiceName string          `gorm:"size:255" json:"service_name"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Currency    string          `gorm:"size:3;not null" json:"currency"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	Status      OrderStatus     `gorm:"not null" json:"status"`
	InvoiceId   *string         `gorm:"type:char(36);index" json:"invoice_id"`
	Note        *string         `gorm:"type:text" json:"note"`
	Metadata    *OrderMetadata  `gorm:"type:text;serializer:json" json:"metadata"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// OrderMetadata keeps an audit copy of the proposal an order was converted from.
type OrderMetadata struct {
	ProposalId    string                  `json:"proposal_id,omitempty"`
	ProposalItems []OrderMetadataLineItem `json:"proposal_items,omitempty"`
}

type OrderMetadataLineItem struct {
	ServiceId   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
}

const defaultOrderServiceName = "Proposal Order"

func newOrderNumber() string {
	return utils.RandomCode(8)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	order, err := utils.FetchModel[Order](ctx, s.db, orgId, id)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NewNotFound("", id)
		}
		return nil, s.internalError("GetOrder", "fetch order", id, err)
	}
	return order, nil
}

func (s *Store) ordersForInvoice(ctx context.Context, orgId string, invoiceId string) ([]*Order, error) {
	var orders []*Order
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgId, invoiceId).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}
