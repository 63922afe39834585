package main

import (
	"fmt"
	"os"

	"github.com/mmdatafocus/serviceengine_backend/config"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/sirupsen/logrus"
)

// migrate runs AutoMigrate as a one-off job, for deployments started with
// SKIP_MIGRATIONS=true.
func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	if err := models.MigrateTable(db); err != nil {
		logger.WithFields(logrus.Fields{"field": "migrate"}).Error(err.Error())
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"field": "migrate", "tables": len(models.AllModels())}).Info("migrations applied")
}
