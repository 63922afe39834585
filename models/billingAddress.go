package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Address belongs to a client. Invoices copy it into BillingAddress at creation.
type Address struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	OrgId     string    `gorm:"type:char(36);index;not null" json:"org_id"`
	Line1     *string   `gorm:"size:255" json:"line_1"`
	Line2     *string   `gorm:"size:255" json:"line_2"`
	City      *string   `gorm:"size:100" json:"city"`
	State     *string   `gorm:"size:100" json:"state"`
	Postcode  *string   `gorm:"size:20" json:"postcode"`
	Country   *string   `gorm:"size:100" json:"country"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Address) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// BillingAddress is a snapshot; it is never rewritten after the invoice is created.
type BillingAddress struct {
	Line1       *string `json:"line_1"`
	Line2       *string `json:"line_2"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Postcode    *string `json:"postcode"`
	Country     *string `json:"country"`
	NameF       string  `json:"name_f"`
	NameL       string  `json:"name_l"`
	CompanyName *string `json:"company_name"`
	CompanyVat  *string `json:"company_vat"`
	TaxId       *string `json:"tax_id"`
}

// snapshotBillingAddress returns nil when the client has no address.
func snapshotBillingAddress(client *User) *BillingAddress {
	if client == nil || client.Address == nil {
		return nil
	}
	a := client.Address
	return &BillingAddress{
		Line1:       a.Line1,
		Line2:       a.Line2,
		City:        a.City,
		State:       a.State,
		Postcode:    a.Postcode,
		Country:     a.Country,
		NameF:       client.NameF,
		NameL:       client.NameL,
		CompanyName: client.Company,
		CompanyVat:  nil,
		TaxId:       client.TaxId,
	}
}
