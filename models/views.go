package models

import (
	"time"
)

// Views are the JSON shapes returned by the API. Money is rendered as a
// string with two decimals.

type ClientView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	NameF   string  `json:"name_f"`
	NameL   string  `json:"name_l"`
	Email   string  `json:"email"`
	Company *string `json:"company"`
	Phone   *string `json:"phone"`
}

func NewClientView(u *User) *ClientView {
	if u == nil {
		return nil
	}
	return &ClientView{
		ID:      u.ID,
		Name:    u.FullName(),
		NameF:   u.NameF,
		NameL:   u.NameL,
		Email:   u.Email,
		Company: u.Company,
		Phone:   u.Phone,
	}
}

type InvoiceItemView struct {
	ID          string         `json:"id"`
	InvoiceId   string         `json:"invoice_id"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Quantity    int            `json:"quantity"`
	Amount      string         `json:"amount"`
	Discount    string         `json:"discount"`
	Total       string         `json:"total"`
	ServiceId   *string        `json:"service_id"`
	OrderId     *string        `json:"order_id"`
	Options     map[string]any `json:"options"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type InvoiceView struct {
	ID             string            `json:"id"`
	Number         string            `json:"number"`
	NumberPrefix   string            `json:"number_prefix"`
	Client         *ClientView       `json:"client"`
	Items          []InvoiceItemView `json:"items"`
	BillingAddress *BillingAddress   `json:"billing_address"`
	Status         string            `json:"status"`
	StatusId       InvoiceStatus     `json:"status_id"`
	CreatedAt      time.Time         `json:"created_at"`
	DateDue        time.Time         `json:"date_due"`
	DatePaid       *time.Time        `json:"date_paid"`
	Credit         string            `json:"credit"`
	Tax            string            `json:"tax"`
	TaxName        *string           `json:"tax_name"`
	TaxPercent     string            `json:"tax_percent"`
	Currency       string            `json:"currency"`
	Note           *string           `json:"note"`
	IpAddress      *string           `json:"ip_address"`
	Recurring      *Recurring        `json:"recurring"`
	CouponId       *string           `json:"coupon_id"`
	TransactionId  *string           `json:"transaction_id"`
	Paysys         *PaymentSystem    `json:"paysys"`
	Subtotal       string            `json:"subtotal"`
	Total          string            `json:"total"`
}

// NewInvoiceView renders inv with client; pass inv.User when it was preloaded.
func NewInvoiceView(inv *Invoice, client *User) InvoiceView {
	items := make([]InvoiceItemView, 0, len(inv.Items))
	for _, item := range inv.Items {
		items = append(items, InvoiceItemView{
			ID:          item.ID,
			InvoiceId:   item.InvoiceId,
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			Amount:      FormatMoney(item.Amount),
			Discount:    FormatMoney(item.Discount),
			Total:       FormatMoney(item.Total),
			ServiceId:   item.ServiceId,
			OrderId:     item.OrderId,
			Options:     item.Options,
			CreatedAt:   item.CreatedAt,
			UpdatedAt:   item.UpdatedAt,
		})
	}
	return InvoiceView{
		ID:             inv.ID,
		Number:         inv.Number,
		NumberPrefix:   inv.NumberPrefix,
		Client:         NewClientView(client),
		Items:          items,
		BillingAddress: inv.BillingAddress,
		Status:         inv.Status.Label(),
		StatusId:       inv.Status,
		CreatedAt:      inv.CreatedAt,
		DateDue:        inv.DateDue,
		DatePaid:       inv.DatePaid,
		Credit:         FormatMoney(inv.Credit),
		Tax:            FormatMoney(inv.Tax),
		TaxName:        inv.TaxName,
		TaxPercent:     FormatMoney(inv.TaxPercent),
		Currency:       inv.Currency,
		Note:           inv.Note,
		IpAddress:      inv.IpAddress,
		Recurring:      inv.Recurring,
		CouponId:       inv.CouponId,
		TransactionId:  inv.TransactionId,
		Paysys:         inv.Paysys,
		Subtotal:       FormatMoney(inv.Subtotal),
		Total:          FormatMoney(inv.Total),
	}
}

type ProposalItemView struct {
	ID          string    `json:"id"`
	ServiceId   string    `json:"service_id"`
	ServiceName *string   `json:"service_name"`
	Quantity    int       `json:"quantity"`
	Price       string    `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProposalView struct {
	ID               string             `json:"id"`
	ClientEmail      string             `json:"client_email"`
	ClientName       string             `json:"client_name"`
	ClientNameF      string             `json:"client_name_f"`
	ClientNameL      string             `json:"client_name_l"`
	ClientCompany    *string            `json:"client_company"`
	Status           string             `json:"status"`
	StatusId         ProposalStatus     `json:"status_id"`
	Total            string             `json:"total"`
	Notes            *string            `json:"notes"`
	Items            []ProposalItemView `json:"items"`
	ConvertedOrderId *string            `json:"converted_order_id"`
	SentAt           *time.Time         `json:"sent_at"`
	SignedAt         *time.Time         `json:"signed_at"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func NewProposalView(p *Proposal) ProposalView {
	items := make([]ProposalItemView, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, ProposalItemView{
			ID:          item.ID,
			ServiceId:   item.ServiceId,
			ServiceName: item.ServiceName(),
			Quantity:    item.Quantity,
			Price:       FormatMoney(item.Price),
			CreatedAt:   item.CreatedAt,
		})
	}
	return ProposalView{
		ID:               p.ID,
		ClientEmail:      p.ClientEmail,
		ClientName:       (&User{NameF: p.ClientNameF, NameL: p.ClientNameL}).FullName(),
		ClientNameF:      p.ClientNameF,
		ClientNameL:      p.ClientNameL,
		ClientCompany:    p.ClientCompany,
		Status:           p.Status.Label(),
		StatusId:         p.Status,
		Total:            FormatMoney(p.Total),
		Notes:            p.Notes,
		Items:            items,
		ConvertedOrderId: p.ConvertedOrderId,
		SentAt:           p.SentAt,
		SignedAt:         p.SignedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

type OrderView struct {
	ID          string         `json:"id"`
	Number      string         `json:"number"`
	Status      string         `json:"status"`
	StatusId    OrderStatus    `json:"status_id"`
	UserId      string         `json:"user_id"`
	ServiceId   *string        `json:"service_id"`
	ServiceName string         `json:"service_name"`
	Price       string         `json:"price"`
	Currency    string         `json:"currency"`
	Quantity    int            `json:"quantity"`
	InvoiceId   *string        `json:"invoice_id"`
	Note        *string        `json:"note"`
	Metadata    *OrderMetadata `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

func NewOrderView(o *Order) OrderView {
	return OrderView{
		ID:          o.ID,
		Number:      o.Number,
		Status:      o.Status.Label(),
		StatusId:    o.Status,
		UserId:      o.UserId,
		ServiceId:   o.ServiceId,
		ServiceName: o.ServiceName,
		Price:       FormatMoney(o.Price),
		Currency:    o.Currency,
		Quantity:    o.Quantity,
		InvoiceId:   o.InvoiceId,
		Note:        o.Note,
		Metadata:    o.Metadata,
		CreatedAt:   o.CreatedAt,
	}
}

// SignResultView is the body of a successful signature.
type SignResultView struct {
	Proposal ProposalView `json:"proposal"`
	Order    OrderView    `json:"order"`
}

func NewSignResultView(r *SignResult) SignResultView {
	return SignResultView{Proposal: NewProposalView(r.Proposal), Order: NewOrderView(r.Order)}
}
