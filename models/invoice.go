package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Invoice struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId          string          `gorm:"type:char(36);not null;index;uniqueIndex:idx_invoices_org_number,priority:1" json:"org_id"`
	Number         string          `gorm:"size:50;not null;uniqueIndex:idx_invoices_org_number,priority:2" json:"number"`
	NumberPrefix   string          `gorm:"size:20;not null" json:"number_prefix"`
	UserId         *string         `gorm:"type:char(36);index" json:"user_id"`
	User           *User           `gorm:"foreignKey:UserId" json:"-"`
	BillingAddress *BillingAddress `gorm:"type:text;serializer:json" json:"billing_address"`
	Status         InvoiceStatus   `gorm:"not null;index" json:"status"`
	DateDue        time.Time       `gorm:"not null" json:"date_due"`
	DatePaid       *time.Time      `json:"date_paid"`
	Credit         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"credit"`
	Tax            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax"`
	TaxType        *int            `json:"tax_type"`
	TaxName        *string         `gorm:"size:100" json:"tax_name"`
	TaxPercent     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_percent"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	Note           *string         `gorm:"type:text" json:"note"`
	IpAddress      *string         `gorm:"size:45" json:"ip_address"`
	Recurring      *Recurring      `gorm:"type:text;serializer:json" json:"recurring"`
	CouponId       *string         `gorm:"type:char(36)" json:"coupon_id"`
	TransactionId  *string         `gorm:"size:100" json:"transaction_id"`
	Paysys         *PaymentSystem  `gorm:"size:20" json:"paysys"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	Total          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`
	Items          []*InvoiceItem  `gorm:"foreignKey:InvoiceId" json:"items"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (inv *Invoice) BeforeCreate(tx *gorm.DB) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	return nil
}

type InvoiceItem struct {
	ID          string          `gorm:"type:char(36);primaryKey" json:"id"`
	InvoiceId   string          `gorm:"type:char(36);not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null" json:"-"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Description *string         `gorm:"type:text" json:"description"`
	Quantity    int             `gorm:"not null" json:"quantity"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Discount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"discount"`
	Total       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`
	ServiceId   *string         `gorm:"type:char(36);index" json:"service_id"`
	OrderId     *string         `gorm:"type:char(36)" json:"order_id"`
	Options     map[string]any  `gorm:"type:text;serializer:json" json:"options"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item *InvoiceItem) BeforeCreate(tx *gorm.DB) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return nil
}

func (item *InvoiceItem) Line() InvoiceLine {
	return InvoiceLine{Quantity: item.Quantity, Amount: item.Amount, Discount: item.Discount}
}

// Recurring is the billing cycle descriptor of a recurring invoice.
type Recurring struct {
	PeriodLength int                 `json:"r_period_l"`
	PeriodType   RecurringPeriodType `json:"r_period_t"`
}

type RecurringInput struct {
	PeriodLength *int    `json:"r_period_l"`
	PeriodType   *string `json:"r_period_t"`
}

type InvoiceItemInput struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Quantity    *int             `json:"quantity"`
	Amount      *decimal.Decimal `json:"amount"`
	Discount    *decimal.Decimal `json:"discount"`
	ServiceId   *string          `json:"service_id"`
	Options     map[string]any   `json:"options"`
}

// UserData seeds a client provisioned from an invoice email.
type UserData struct {
	NameF   *string `json:"name_f"`
	NameL   *string `json:"name_l"`
	Company *string `json:"company"`
	Phone   *string `json:"phone"`
}

type NewInvoice struct {
	UserId    *string                  `json:"user_id"`
	Email     *string                  `json:"email"`
	Items     *[]InvoiceItemInput      `json:"items"`
	Status    Optional[int]            `json:"status"`
	Tax       *decimal.Decimal         `json:"tax"`
	TaxType   Optional[int]            `json:"tax_type"`
	Recurring Optional[RecurringInput] `json:"recurring"`
	CouponId  *string                  `json:"coupon_id"`
	Note      *string                  `json:"note"`
	UserData  *UserData                `json:"user_data"`
}

// UpdateInvoiceInput replaces the item list in full. Optional fields
// distinguish "leave as is" from an explicit null.
type UpdateInvoiceInput struct {
	UserId    *string                  `json:"user_id"`
	Items     *[]InvoiceItemInput      `json:"items"`
	Status    Optional[int]            `json:"status"`
	Tax       *decimal.Decimal         `json:"tax"`
	TaxType   Optional[int]            `json:"tax_type"`
	Recurring Optional[RecurringInput] `json:"recurring"`
	CouponId  Optional[string]         `json:"coupon_id"`
	Note      *string                  `json:"note"`
}

func validateInvoiceItems(errs utils.FieldErrors, items *[]InvoiceItemInput) {
	if items == nil {
		errs.Add("items", "The items field is required.")
		return
	}
	if len(*items) == 0 {
		errs.Add("items", "At least one item is required.")
		return
	}
	for i, item := range *items {
		if item.Name == nil || *item.Name == "" {
			errs.Add(fmt.Sprintf("items.%d.name", i), "The name field is required.")
		}
		if item.Quantity == nil || *item.Quantity < 1 {
			errs.Add(fmt.Sprintf("items.%d.quantity", i), "Quantity must be at least 1.")
		}
		if item.Amount == nil {
			errs.Add(fmt.Sprintf("items.%d.amount", i), "The amount field is required.")
		}
		if item.ServiceId != nil && *item.ServiceId != "" && !utils.IsValidUUID(*item.ServiceId) {
			errs.Add(fmt.Sprintf("items.%d.service_id", i), "The service_id must be a valid UUID.")
		}
	}
}

func validateRecurring(errs utils.FieldErrors, recurring Optional[RecurringInput]) {
	if !recurring.Present() {
		return
	}
	r := recurring.Value
	if r.PeriodLength == nil || *r.PeriodLength == 0 || r.PeriodType == nil || *r.PeriodType == "" {
		errs.Add("recurring", "Recurring requires r_period_l and r_period_t.")
		return
	}
	if !RecurringPeriodType(*r.PeriodType).IsValid() {
		errs.Add("recurring", "r_period_t must be M, W, or D.")
	}
}

func recurringFrom(recurring Optional[RecurringInput]) *Recurring {
	if !recurring.Present() {
		return nil
	}
	return &Recurring{
		PeriodLength: *recurring.Value.PeriodLength,
		PeriodType:   RecurringPeriodType(*recurring.Value.PeriodType),
	}
}

func validateStatusValue(errs utils.FieldErrors, status Optional[int]) {
	if status.Set && (!status.Valid || !InvoiceStatus(status.Value).IsValid()) {
		errs.Add("status", "The selected status is invalid.")
	}
}

// buildInvoiceItems converts validated inputs with their computed totals.
func buildInvoiceItems(invoiceId string, inputs []InvoiceItemInput) []*InvoiceItem {
	items := make([]*InvoiceItem, 0, len(inputs))
	for i, in := range inputs {
		item := &InvoiceItem{
			InvoiceId:   invoiceId,
			Position:    i,
			Name:        *in.Name,
			Description: in.Description,
			Quantity:    *in.Quantity,
			Amount:      *in.Amount,
			Discount:    utils.DereferencePtr(in.Discount, decimal.Zero),
			Options:     in.Options,
		}
		if in.ServiceId != nil && *in.ServiceId != "" {
			item.ServiceId = in.ServiceId
		}
		if item.Options == nil {
			item.Options = map[string]any{}
		}
		item.Total = item.Line().Total()
		items = append(items, item)
	}
	return items
}

// carryOrderLinks keeps the order created for a service line when the items
// of an invoice are replaced. Each old link is reused at most once, matched by
// service_id in position order.
func carryOrderLinks(previous []*InvoiceItem, next []*InvoiceItem) {
	links := map[string][]string{}
	for _, item := range previous {
		if item.ServiceId != nil && item.OrderId != nil {
			links[*item.ServiceId] = append(links[*item.ServiceId], *item.OrderId)
		}
	}
	for _, item := range next {
		if item.ServiceId == nil {
			continue
		}
		ids := links[*item.ServiceId]
		if len(ids) == 0 {
			continue
		}
		orderId := ids[0]
		item.OrderId = &orderId
		links[*item.ServiceId] = ids[1:]
	}
}

func taxNameFor(taxType *int) *string {
	if taxType == nil || *taxType == 0 {
		return nil
	}
	return utils.NewString("Tax")
}

func taxPercentFor(taxType *int, tax decimal.Decimal) decimal.Decimal {
	if taxType != nil && *taxType == TaxTypePercentage {
		return tax
	}
	return decimal.Zero
}

func (s *Store) CreateInvoice(ctx context.Context, input NewInvoice) (_ *Invoice, err error) {
	ctx, span := startSpan(ctx, "CreateInvoice", "")
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}

	errs := utils.FieldErrors{}
	hasUserId := input.UserId != nil && *input.UserId != ""
	hasEmail := input.Email != nil && strings.TrimSpace(*input.Email) != ""
	if !hasUserId && !hasEmail {
		errs.Add("user_id", "Either user_id or email is required.")
	}
	if !hasUserId && hasEmail {
		if !utils.IsValidEmail(strings.TrimSpace(*input.Email)) {
			errs.Add("email", "The email must be a valid email address.")
		}
		if input.UserData != nil && input.UserData.Phone != nil && *input.UserData.Phone != "" {
			if utils.ValidatePhoneNumber(*input.UserData.Phone, config.DefaultPhoneRegion()) != nil {
				errs.Add("user_data.phone", "The phone must be a valid phone number.")
			}
		}
	}
	validateInvoiceItems(errs, input.Items)
	validateStatusValue(errs, input.Status)
	validateRecurring(errs, input.Recurring)
	if errs.HasErrors() {
		return nil, errs.Err()
	}

	if hasUserId {
		exists, err := utils.ResourceExists[User](ctx, s.db, orgId, *input.UserId)
		if err != nil {
			return nil, s.internalError("CreateInvoice", "check client", *input.UserId, err)
		}
		if !exists {
			return nil, utils.NewUnprocessable("user_id", "The specified client does not exist.")
		}
	}
	if input.CouponId != nil && *input.CouponId != "" {
		exists, err := utils.ResourceExists[Coupon](ctx, s.db, orgId, *input.CouponId)
		if err != nil {
			return nil, s.internalError("CreateInvoice", "check coupon", *input.CouponId, err)
		}
		if !exists {
			return nil, utils.NewUnprocessable("coupon_id", "The specified coupon does not exist.")
		}
	}

	var invoiceId string
	err = s.Transaction(ctx, func(tx *Store) error {
		client, err := tx.resolveInvoiceClient(ctx, orgId, input)
		if err != nil {
			return err
		}
		number, err := tx.nextInvoiceNumber(ctx, orgId)
		if err != nil {
			return err
		}

		status := InvoiceStatusUnpaid
		if input.Status.Present() {
			status = InvoiceStatus(input.Status.Value)
		}
		var taxType *int
		if input.TaxType.Present() {
			taxType = &input.TaxType.Value
		}
		tax := utils.DereferencePtr(input.Tax, decimal.Zero)

		now := tx.Now()
		invoice := &Invoice{
			ID:             uuid.NewString(),
			OrgId:          orgId,
			Number:         number,
			NumberPrefix:   config.InvoiceNumberPrefix(),
			UserId:         &client.ID,
			BillingAddress: snapshotBillingAddress(client),
			Status:         status,
			DateDue:        now.AddDate(0, 0, config.InvoiceDueDays()),
			Credit:         decimal.Zero,
			Tax:            tax,
			TaxType:        taxType,
			TaxName:        taxNameFor(taxType),
			TaxPercent:     taxPercentFor(taxType, tax),
			Currency:       config.DefaultCurrency(),
			Note:           input.Note,
			Recurring:      recurringFrom(input.Recurring),
			CouponId:       input.CouponId,
			CreatedAt:      now,
		}
		if invoice.CouponId != nil && *invoice.CouponId == "" {
			invoice.CouponId = nil
		}
		items := buildInvoiceItems(invoice.ID, *input.Items)
		totals := CalculateInvoiceTotals(lineList(items), tax)
		invoice.Subtotal = totals.Subtotal
		invoice.Total = totals.Total

		if err := tx.db.WithContext(ctx).Omit(clause.Associations).Create(invoice).Error; err != nil {
			return err
		}
		if err := tx.db.WithContext(ctx).Create(&items).Error; err != nil {
			return err
		}
		invoiceId = invoice.ID
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, s.internalError("CreateInvoice", "create invoice", input, err)
	}
	return s.loadInvoice(ctx, orgId, invoiceId)
}

// resolveInvoiceClient returns the client named by user_id, or the org's
// user with the given email, provisioning one when none exists.
func (s *Store) resolveInvoiceClient(ctx context.Context, orgId string, input NewInvoice) (*User, error) {
	if input.UserId != nil && *input.UserId != "" {
		client, err := s.getClient(ctx, orgId, *input.UserId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.NewUnprocessable("user_id", "The specified client does not exist.")
		}
		return client, err
	}
	seed := NewClient{Email: strings.TrimSpace(*input.Email)}
	if input.UserData != nil {
		seed.NameF = utils.DereferencePtr(input.UserData.NameF, "")
		seed.NameL = utils.DereferencePtr(input.UserData.NameL, "")
		seed.Company = input.UserData.Company
		seed.Phone = input.UserData.Phone
	}
	client, _, err := s.findOrCreateClient(ctx, orgId, seed)
	return client, err
}

func lineList(items []*InvoiceItem) []InvoiceLine {
	lines := make([]InvoiceLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Line())
	}
	return lines
}

// loadInvoice reads an invoice with its client and items, org scoped.
func (s *Store) loadInvoice(ctx context.Context, orgId string, id string) (*Invoice, error) {
	invoice, err := s.fetchInvoice(ctx, orgId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.NewNotFound("", id)
		}
		return nil, s.internalError("loadInvoice", "fetch invoice", id, err)
	}
	return invoice, nil
}

func (s *Store) fetchInvoice(ctx context.Context, orgId string, id string) (*Invoice, error) {
	invoice, err := utils.FetchModel[Invoice](ctx, s.db, orgId, id, "User", "User.Address")
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("position ASC").
		Find(&invoice.Items).Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadInvoice(ctx, orgId, id)
}

func (s *Store) UpdateInvoice(ctx context.Context, id string, input UpdateInvoiceInput) (_ *Invoice, err error) {
	ctx, span := startSpan(ctx, "UpdateInvoice", id)
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.loadInvoice(ctx, orgId, id)
	if err != nil {
		return nil, err
	}

	errs := utils.FieldErrors{}
	validateInvoiceItems(errs, input.Items)
	validateStatusValue(errs, input.Status)
	var transitionErr error
	if input.Status.Present() && !errs.Has("status") {
		transitionErr = ValidateInvoiceTransition(existing.Status, InvoiceStatus(input.Status.Value))
	}
	validateRecurring(errs, input.Recurring)
	if transitionErr != nil {
		if !errs.HasErrors() {
			return nil, transitionErr
		}
		var te *utils.TransitionError
		if errors.As(transitionErr, &te) {
			for field, msgs := range te.Fields {
				for _, msg := range msgs {
					errs.Add(field, msg)
				}
			}
		}
	}
	if errs.HasErrors() {
		return nil, errs.Err()
	}

	userId := existing.UserId
	if input.UserId != nil && *input.UserId != "" && (existing.UserId == nil || *input.UserId != *existing.UserId) {
		exists, err := utils.ResourceExists[User](ctx, s.db, orgId, *input.UserId)
		if err != nil {
			return nil, s.internalError("UpdateInvoice", "check client", *input.UserId, err)
		}
		if !exists {
			return nil, utils.NewUnprocessable("user_id", "The specified client does not exist.")
		}
		userId = input.UserId
	}
	if input.CouponId.Present() && input.CouponId.Value != "" {
		exists, err := utils.ResourceExists[Coupon](ctx, s.db, orgId, input.CouponId.Value)
		if err != nil {
			return nil, s.internalError("UpdateInvoice", "check coupon", input.CouponId.Value, err)
		}
		if !exists {
			return nil, utils.NewUnprocessable("coupon_id", "The specified coupon does not exist.")
		}
	}

	invoice := *existing
	invoice.User = nil
	invoice.Items = nil
	invoice.UserId = userId
	if input.Status.Present() {
		invoice.Status = InvoiceStatus(input.Status.Value)
	}
	if input.Tax != nil {
		invoice.Tax = *input.Tax
	}
	if input.TaxType.Set {
		if input.TaxType.Valid {
			v := input.TaxType.Value
			invoice.TaxType = &v
		} else {
			invoice.TaxType = nil
		}
	}
	if input.Tax != nil || input.TaxType.Set {
		invoice.TaxName = taxNameFor(invoice.TaxType)
		invoice.TaxPercent = taxPercentFor(invoice.TaxType, invoice.Tax)
	}
	if input.Recurring.Set {
		invoice.Recurring = recurringFrom(input.Recurring)
	}
	if input.CouponId.Set {
		if input.CouponId.Present() && input.CouponId.Value != "" {
			v := input.CouponId.Value
			invoice.CouponId = &v
		} else {
			invoice.CouponId = nil
		}
	}
	if input.Note != nil {
		invoice.Note = input.Note
	}

	items := buildInvoiceItems(invoice.ID, *input.Items)
	carryOrderLinks(existing.Items, items)
	totals := CalculateInvoiceTotals(lineList(items), invoice.Tax)
	invoice.Subtotal = totals.Subtotal
	invoice.Total = totals.Total

	err = s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Omit(clause.Associations).Save(&invoice).Error; err != nil {
			return err
		}
		if err := tx.db.WithContext(ctx).Where("invoice_id = ?", invoice.ID).Delete(&InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.db.WithContext(ctx).Create(&items).Error
	})
	if err != nil {
		return nil, s.internalError("UpdateInvoice", "save invoice", id, err)
	}
	return s.loadInvoice(ctx, orgId, id)
}

// DeleteInvoice is a soft delete; the row stays for numbering and audit.
func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return err
	}
	if !utils.IsValidUUID(id) {
		return utils.NewNotFound("", id)
	}
	res := s.db.WithContext(ctx).Where("org_id = ? AND id = ?", orgId, id).Delete(&Invoice{})
	if res.Error != nil {
		return s.internalError("DeleteInvoice", "delete invoice", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.NewNotFound("", id)
	}
	return nil
}

var invoiceListSpec = ListSpec{
	Sortable:   []string{"created_at", "updated_at", "number", "status", "total", "subtotal", "date_due", "date_paid"},
	Filterable: []string{"status", "user_id", "currency", "number", "coupon_id", "created_at", "date_due", "date_paid", "total"},
}

// InvoiceListSpec exposes the sort and filter whitelist for invoice lists.
func InvoiceListSpec() ListSpec {
	return invoiceListSpec
}

// ListInvoices returns one page of invoices with items. Clients are not
// preloaded; list renderers batch them through a loader.
func (s *Store) ListInvoices(ctx context.Context, q ListQuery) (*Page[*Invoice], error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	base := s.db.WithContext(ctx).Model(&Invoice{}).Where("org_id = ?", orgId)
	page, err := Paginate[*Invoice](base, q)
	if err != nil {
		return nil, s.internalError("ListInvoices", "list invoices", q, err)
	}
	if err := s.attachInvoiceItems(ctx, page.Data); err != nil {
		return nil, s.internalError("ListInvoices", "load items", q, err)
	}
	return page, nil
}

func (s *Store) attachInvoiceItems(ctx context.Context, invoices []*Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]string, 0, len(invoices))
	byId := make(map[string]*Invoice, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
		byId[inv.ID] = inv
		inv.Items = []*InvoiceItem{}
	}
	var items []*InvoiceItem
	if err := s.db.WithContext(ctx).
		Where("invoice_id IN ?", ids).
		Order("invoice_id ASC, position ASC").
		Find(&items).Error; err != nil {
		return err
	}
	for _, item := range items {
		if inv, ok := byId[item.InvoiceId]; ok {
			inv.Items = append(inv.Items, item)
		}
	}
	return nil
}

// ClientsByIds backs the client loader used by list renderers.
func (s *Store) ClientsByIds(ctx context.Context, ids []string) ([]*User, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	var users []*User
	if len(ids) == 0 {
		return users, nil
	}
	err = s.db.WithContext(ctx).
		Preload("Address").
		Where("org_id = ? AND id IN ?", orgId, utils.UniqueSlice(ids)).
		Find(&users).Error
	return users, err
}
