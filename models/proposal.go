package models

import (
	"context"
	"encoding/json"
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

// Proposal is a quote to a prospective client. Its total is fixed when it is
// created and never recalculated.
type Proposal struct {
	ID               string          `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId            string          `gorm:"type:char(36);not null;index" json:"org_id"`
	ClientEmail      string          `gorm:"size:191;not null;index" json:"client_email"`
	ClientNameF      string          `gorm:"size:100;not null" json:"client_name_f"`
	ClientNameL      string          `gorm:"size:100;not null" json:"client_name_l"`
	ClientCompany    *string         `gorm:"size:255" json:"client_company"`
	Status           ProposalStatus  `gorm:"not null;index" json:"status"`
	Total            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`
	Notes            *string         `gorm:"type:text" json:"notes"`
	ConvertedOrderId *string         `gorm:"type:char(36)" json:"converted_order_id"`
	SentAt           *time.Time      `json:"sent_at"`
	SignedAt         *time.Time      `json:"signed_at"`
	Items            []*ProposalItem `gorm:"foreignKey:ProposalId" json:"items"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Proposal) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type ProposalItem struct {
	ID         string          `gorm:"type:char(36);primaryKey" json:"id"`
	ProposalId string          `gorm:"type:char(36);not null;index" json:"proposal_id"`
	Position   int             `gorm:"not null" json:"-"`
	ServiceId  string          `gorm:"type:char(36);not null;index" json:"service_id"`
	Service    *Service        `gorm:"foreignKey:ServiceId" json:"-"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (item *ProposalItem) BeforeCreate(tx *gorm.DB) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return nil
}

// ServiceName is the live catalogue name, or nil when the service is gone.
func (item *ProposalItem) ServiceName() *string {
	if item.Service == nil {
		return nil
	}
	return &item.Service.Name
}

type ProposalItemInput struct {
	ServiceId *string          `json:"service_id"`
	Quantity  *int             `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
}

type NewProposal struct {
	ClientEmail   *string              `json:"client_email"`
	ClientNameF   *string              `json:"client_name_f"`
	ClientNameL   *string              `json:"client_name_l"`
	ClientCompany *string              `json:"client_company"`
	Items         *[]ProposalItemInput `json:"items"`
	Notes         *string              `json:"notes"`
}

// SignResult carries both records touched by a signature.
type SignResult struct {
	Proposal *Proposal
	Order    *Order
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func validateNewProposal(input NewProposal) utils.FieldErrors {
	errs := utils.FieldErrors{}
	if blank(input.ClientEmail) {
		errs.Add("client_email", "The client_email field is required.")
	} else if !utils.IsValidEmail(*input.ClientEmail) {
		errs.Add("client_email", "The client_email must be a valid email address.")
	}
	if blank(input.ClientNameF) {
		errs.Add("client_name_f", "The client_name_f field is required.")
	}
	if blank(input.ClientNameL) {
		errs.Add("client_name_l", "The client_name_l field is required.")
	}

	if input.Items == nil {
		errs.Add("items", "The items field is required and must be an array.")
		return errs
	}
	if len(*input.Items) == 0 {
		errs.Add("items", "At least one item is required.")
		return errs
	}
	for i, item := range *input.Items {
		if blank(item.ServiceId) {
			errs.Add(fmt.Sprintf("items.%d.service_id", i), "The service_id field is required.")
		} else if !utils.IsValidUUID(*item.ServiceId) {
			errs.Add(fmt.Sprintf("items.%d.service_id", i), "The service_id must be a valid UUID.")
		}
		if item.Price == nil {
			errs.Add(fmt.Sprintf("items.%d.price", i), "The price field is required.")
		} else if item.Price.IsNegative() {
			errs.Add(fmt.Sprintf("items.%d.price", i), "The price must be a non-negative number.")
		}
		if item.Quantity != nil && *item.Quantity < 1 {
			errs.Add(fmt.Sprintf("items.%d.quantity", i), "The quantity must be at least 1.")
		}
	}
	return errs
}

func (s *Store) CreateProposal(ctx context.Context, input NewProposal) (_ *Proposal, err error) {
	ctx, span := startSpan(ctx, "CreateProposal", "")
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	if errs := validateNewProposal(input); errs.HasErrors() {
		return nil, errs.Err()
	}

	serviceIds := make([]string, 0, len(*input.Items))
	for _, item := range *input.Items {
		serviceIds = append(serviceIds, *item.ServiceId)
	}
	missing, err := utils.MissingResourceIds[Service](ctx, s.db, orgId, serviceIds)
	if err != nil {
		return nil, s.internalError("CreateProposal", "check services", serviceIds, err)
	}
	if len(missing) > 0 {
		return nil, utils.NewUnprocessable("items", fmt.Sprintf("Service with ID %s does not exist.", missing[0]))
	}

	proposal := &Proposal{
		ID:            uuid.NewString(),
		OrgId:         orgId,
		ClientEmail:   utils.NormalizeEmail(*input.ClientEmail),
		ClientNameF:   strings.TrimSpace(*input.ClientNameF),
		ClientNameL:   strings.TrimSpace(*input.ClientNameL),
		ClientCompany: input.ClientCompany,
		Status:        ProposalStatusDraft,
		Notes:         input.Notes,
	}
	if blank(proposal.ClientCompany) {
		proposal.ClientCompany = nil
	}
	if blank(proposal.Notes) {
		proposal.Notes = nil
	}

	lines := make([]ProposalLine, 0, len(*input.Items))
	items := make([]*ProposalItem, 0, len(*input.Items))
	for i, in := range *input.Items {
		line := ProposalLine{Quantity: utils.DereferencePtr(in.Quantity, 0), Price: *in.Price}
		lines = append(lines, line)
		items = append(items, &ProposalItem{
			ProposalId: proposal.ID,
			Position:   i,
			ServiceId:  *in.ServiceId,
			Quantity:   line.EffectiveQuantity(),
			Price:      line.Price,
		})
	}
	proposal.Total = CalculateProposalTotal(lines)

	err = s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Omit(clause.Associations).Create(proposal).Error; err != nil {
			return err
		}
		return tx.db.WithContext(ctx).Omit(clause.Associations).Create(&items).Error
	})
	if err != nil {
		return nil, s.internalError("CreateProposal", "create proposal", proposal.ID, err)
	}
	return s.loadProposal(ctx, orgId, proposal.ID)
}

func (s *Store) fetchProposal(ctx context.Context, orgId string, id string) (*Proposal, error) {
	proposal, err := utils.FetchModel[Proposal](ctx, s.db, orgId, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Preload("Service").
		Where("proposal_id = ?", proposal.ID).
		Order("position ASC").
		Find(&proposal.Items).Error; err != nil {
		return nil, err
	}
	return proposal, nil
}

func (s *Store) loadProposal(ctx context.Context, orgId string, id string) (*Proposal, error) {
	proposal, err := s.fetchProposal(ctx, orgId, id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.NewNotFound("", id)
		}
		return nil, s.internalError("loadProposal", "fetch proposal", id, err)
	}
	return proposal, nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadProposal(ctx, orgId, id)
}

var proposalListSpec = ListSpec{
	Sortable:   []string{"created_at", "updated_at", "status", "total", "client_email", "sent_at", "signed_at"},
	Filterable: []string{"status", "client_email", "created_at", "sent_at", "signed_at", "total", "converted_order_id"},
}

func ProposalListSpec() ListSpec {
	return proposalListSpec
}

// ListProposals returns one page of proposals with their items. Item services
// are resolved by the list renderer.
func (s *Store) ListProposals(ctx context.Context, q ListQuery) (*Page[*Proposal], error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	base := s.db.WithContext(ctx).Model(&Proposal{}).Where("org_id = ?", orgId)
	page, err := Paginate[*Proposal](base, q)
	if err != nil {
		return nil, s.internalError("ListProposals", "list proposals", q, err)
	}
	if len(page.Data) == 0 {
		return page, nil
	}
	ids := make([]string, 0, len(page.Data))
	byId := make(map[string]*Proposal, len(page.Data))
	for _, p := range page.Data {
		ids = append(ids, p.ID)
		byId[p.ID] = p
		p.Items = []*ProposalItem{}
	}
	var items []*ProposalItem
	if err := s.db.WithContext(ctx).
		Where("proposal_id IN ?", ids).
		Order("proposal_id ASC, position ASC").
		Find(&items).Error; err != nil {
		return nil, s.internalError("ListProposals", "load items", q, err)
	}
	for _, item := range items {
		if p, ok := byId[item.ProposalId]; ok {
			p.Items = append(p.Items, item)
		}
	}
	return page, nil
}

// ServicesByIds backs the service loader used by list renderers. Deleted
// services are not returned.
func (s *Store) ServicesByIds(ctx context.Context, ids []string) ([]*Service, error) {
	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModelsByIds[Service](ctx, s.db, orgId, ids)
}

// ProposalSentPayload is the body of a proposal.sent lifecycle event.
type ProposalSentPayload struct {
	ProposalId  string          `json:"proposal_id"`
	ClientEmail string          `json:"client_email"`
	Total       decimal.Decimal `json:"total"`
	SentAt      time.Time       `json:"sent_at"`
}

// ProposalSignedPayload is the body of a proposal.signed lifecycle event.
type ProposalSignedPayload struct {
	ProposalId    string          `json:"proposal_id"`
	OrderId       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserId        string          `json:"user_id"`
	ClientCreated bool            `json:"client_created"`
	Total         decimal.Decimal `json:"total"`
	SignedAt      time.Time       `json:"signed_at"`
}

func (s *Store) SendProposal(ctx context.Context, id string) (_ *Proposal, warnings Warnings, err error) {
	ctx, span := startSpan(ctx, "SendProposal", id)
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !utils.IsValidUUID(id) {
		return nil, nil, utils.NewNotFound("", id)
	}

	release, err := s.lockRecord(ctx, "proposals", id, &warnings)
	if err != nil {
		return nil, warnings, err
	}
	defer s.releaseLock(ctx, release, "proposals", id)

	err = s.Transaction(ctx, func(tx *Store) error {
		proposal, err := utils.FetchModel[Proposal](ctx, tx.db, orgId, id)
		if err != nil {
			return err
		}
		if proposal.Status != ProposalStatusDraft {
			return utils.NewFieldError("status", "Cannot send proposal with status "+proposal.Status.Label())
		}
		now := tx.Now()
		res := tx.db.WithContext(ctx).Model(&Proposal{}).
			Where("id = ? AND org_id = ? AND status = ?", id, orgId, ProposalStatusDraft).
			Updates(map[string]any{"status": ProposalStatusSent, "sent_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.NewFieldError("status", "Cannot send proposal with status "+ProposalStatusSent.Label())
		}
		return tx.appendEvent(ctx, orgId, "proposal", id, LifecycleEventProposalSent, ProposalSentPayload{
			ProposalId:  id,
			ClientEmail: proposal.ClientEmail,
			Total:       proposal.Total,
			SentAt:      now,
		})
	})
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, warnings, utils.NewNotFound("", id)
		}
		if isDomainError(err) {
			return nil, warnings, err
		}
		return nil, warnings, s.internalError("SendProposal", "send proposal", id, err)
	}
	proposal, err := s.loadProposal(ctx, orgId, id)
	return proposal, warnings, err
}

// SignProposal converts a sent proposal into a client and an order. The
// proposal update only applies while the row is still Sent; when it does not
// apply, the order is removed before the transaction is rolled back.
func (s *Store) SignProposal(ctx context.Context, id string) (_ *SignResult, warnings Warnings, err error) {
	ctx, span := startSpan(ctx, "SignProposal", id)
	defer func() { endSpan(span, err) }()

	orgId, err := orgIdFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !utils.IsValidUUID(id) {
		return nil, nil, utils.NewNotFound("", id)
	}

	release, err := s.lockRecord(ctx, "proposals", id, &warnings)
	if err != nil {
		return nil, warnings, err
	}
	defer s.releaseLock(ctx, release, "proposals", id)

	var orderId string
	err = s.Transaction(ctx, func(tx *Store) error {
		proposal, err := tx.fetchProposal(ctx, orgId, id)
		if err != nil {
			return err
		}
		if proposal.Status != ProposalStatusSent {
			return utils.NewFieldError("status", "Cannot sign proposal with status "+proposal.Status.Label())
		}

		client, created, err := tx.findOrCreateClient(ctx, orgId, NewClient{
			Email:   proposal.ClientEmail,
			NameF:   proposal.ClientNameF,
			NameL:   proposal.ClientNameL,
			Company: proposal.ClientCompany,
		})
		if err != nil {
			return err
		}

		order := orderFromProposal(proposal, client.ID)
		if err := tx.db.WithContext(ctx).Create(order).Error; err != nil {
			return err
		}

		now := tx.Now()
		res := tx.db.WithContext(ctx).Model(&Proposal{}).
			Where("id = ? AND org_id = ? AND status = ?", id, orgId, ProposalStatusSent).
			Updates(map[string]any{
				"status":             ProposalStatusSigned,
				"signed_at":          now,
				"converted_order_id": order.ID,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			cause := res.Error
			if cause == nil {
				cause = errors.New("proposal no longer in Sent status")
			}
			if delErr := tx.db.WithContext(ctx).Where("id = ?", order.ID).Delete(&Order{}).Error; delErr != nil {
				config.LogError(tx.logger, "models", "SignProposal", "compensate order", order.ID, delErr)
			}
			config.LogError(tx.logger, "models", "SignProposal", "update proposal", id, cause)
			return utils.NewInternal("Failed to sign proposal", cause)
		}

		orderId = order.ID
		return tx.appendEvent(ctx, orgId, "proposal", id, LifecycleEventProposalSigned, ProposalSignedPayload{
			ProposalId:    id,
			OrderId:       order.ID,
			OrderNumber:   order.Number,
			UserId:        client.ID,
			ClientCreated: created,
			Total:         proposal.Total,
			SignedAt:      now,
		})
	})
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, warnings, utils.NewNotFound("", id)
		}
		if isDomainError(err) {
			return nil, warnings, err
		}
		return nil, warnings, s.internalError("SignProposal", "sign proposal", id, err)
	}

	proposal, err := s.loadProposal(ctx, orgId, id)
	if err != nil {
		return nil, warnings, err
	}
	order, err := s.GetOrder(ctx, orderId)
	if err != nil {
		return nil, warnings, err
	}
	result := &SignResult{Proposal: proposal, Order: order}
	s.archiveSignedProposal(ctx, result, &warnings)
	return result, warnings, nil
}

func orderFromProposal(proposal *Proposal, userId string) *Order {
	order := &Order{
		OrgId:       proposal.OrgId,
		Number:      newOrderNumber(),
		UserId:      userId,
		ServiceName: defaultOrderServiceName,
		Price:       proposal.Total,
		Currency:    config.DefaultCurrency(),
		Quantity:    1,
		Status:      OrderStatusUnpaid,
		Note:        utils.NewString(strings.TrimSpace("Created from proposal. " + utils.DereferencePtr(proposal.Notes, ""))),
	}
	metadata := &OrderMetadata{ProposalId: proposal.ID, ProposalItems: []OrderMetadataLineItem{}}
	for _, item := range proposal.Items {
		name := ""
		if item.Service != nil {
			name = item.Service.Name
		}
		metadata.ProposalItems = append(metadata.ProposalItems, OrderMetadataLineItem{
			ServiceId:   item.ServiceId,
			ServiceName: name,
			Quantity:    item.Quantity,
			Price:       FormatMoney(item.Price),
		})
	}
	order.Metadata = metadata

	if len(proposal.Items) > 0 {
		primary := proposal.Items[0]
		serviceId := primary.ServiceId
		order.ServiceId = &serviceId
		if primary.Service != nil {
			if primary.Service.Name != "" {
				order.ServiceName = primary.Service.Name
			}
			if primary.Service.Currency != "" {
				order.Currency = primary.Service.Currency
			}
		}
	}
	return order
}

// SignedAgreement is the archived snapshot of a signed proposal.
type SignedAgreement struct {
	Proposal ProposalView `json:"proposal"`
	Order    OrderView    `json:"order"`
	Archived time.Time    `json:"archived_at"`
}

func signedAgreementObject(orgId string, proposalId string) string {
	return fmt.Sprintf("proposals/%s/%s.json", orgId, proposalId)
}

// archiveSignedProposal is best effort; failures only add a warning.
func (s *Store) archiveSignedProposal(ctx context.Context, result *SignResult, warnings *Warnings) {
	if s.archiver == nil {
		return
	}
	body, err := json.Marshal(SignedAgreement{
		Proposal: NewProposalView(result.Proposal),
		Order:    NewOrderView(result.Order),
		Archived: s.Now(),
	})
	if err == nil {
		object := signedAgreementObject(result.Proposal.OrgId, result.Proposal.ID)
		err = s.archiver.Archive(ctx, object, "application/json", body)
	}
	if err != nil {
		warnings.Add("signed proposal %s was not archived", result.Proposal.ID)
		config.LogError(s.logger, "models", "archiveSignedProposal", "archive agreement", result.Proposal.ID, err)
	}
}
