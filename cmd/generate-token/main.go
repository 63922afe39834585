// generate-token issues an API bearer token, creating the organization first
// when only a name is given.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... API_SECRET=... \
//	  go run ./cmd/generate-token --org-name "Acme" --name ci
//	go run ./cmd/generate-token --org-id <uuid> --user-id <uuid> --expires-in 720h
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
	"gorm.io/gorm"
)

type tokenRequest struct {
	OrgId     string        `json:"org_id" validate:"omitempty,uuid"`
	OrgName   string        `json:"org_name" validate:"required_without=OrgId"`
	UserId    string        `json:"user_id" validate:"omitempty,uuid"`
	Name      string        `json:"name" validate:"required"`
	ExpiresIn time.Duration `json:"expires_in" validate:"gte=0"`
}

func main() {
	var req tokenRequest
	flag.StringVar(&req.OrgId, "org-id", "", "existing organization id (uuid)")
	flag.StringVar(&req.OrgName, "org-name", "", "create a new organization with this name")
	flag.StringVar(&req.UserId, "user-id", "", "optional user the token acts as (uuid)")
	flag.StringVar(&req.Name, "name", "default", "label stored on the token row")
	flag.DurationVar(&req.ExpiresIn, "expires-in", 0, "token lifetime, e.g. 720h; 0 never expires")
	migrate := flag.Bool("migrate", false, "run migrations before issuing")
	flag.Parse()

	if errs := utils.ValidateStruct(req); errs.HasErrors() {
		fmt.Fprintln(os.Stderr, errs.String())
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if *migrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
	}
	store := models.NewStore(db)

	orgId := req.OrgId
	if orgId == "" {
		org, err := store.CreateOrganization(ctx, req.OrgName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create organization: %v\n", err)
			os.Exit(1)
		}
		orgId = org.ID
		fmt.Printf("Created organization %q id=%s\n", org.Name, org.ID)
	} else {
		var org models.Organization
		if err := db.WithContext(ctx).Where("id = ?", orgId).First(&org).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fmt.Fprintf(os.Stderr, "organization %s does not exist\n", orgId)
				os.Exit(2)
			}
			fmt.Fprintf(os.Stderr, "failed to lookup organization: %v\n", err)
			os.Exit(1)
		}
	}

	var userId *string
	if req.UserId != "" {
		userId = &req.UserId
	}
	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := time.Now().UTC().Add(req.ExpiresIn)
		expiresAt = &t
	}

	token, record, err := store.IssueApiToken(ctx, orgId, userId, req.Name, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Issued token id=%s org_id=%s\n", record.ID, orgId)
	fmt.Println(token)
}
