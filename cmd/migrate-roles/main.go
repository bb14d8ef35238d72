// cmd/migrate-roles/main.go
package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/downpricer/marketplace-backend/internal/config"
	"github.com/downpricer/marketplace-backend/internal/database"
	"github.com/downpricer/marketplace-backend/internal/observability"
	"github.com/downpricer/marketplace-backend/internal/services"
)

// migrate-roles rewrites legacy plan tiers (SITE_PLAN_10/15/19) to the
// current ones. Safe to run more than once.
func main() {
	dryRun := flag.Bool("dry-run", false, "report users that would change without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}
	observability.ConfigureLogging(cfg)

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.Fatal("Failed to initialize database: ", err)
	}
	defer database.Close(db)

	migration := services.NewRoleMigrationService(db, services.NewRoleSyncService())
	report, err := migration.Run(context.Background(), *dryRun)
	if err != nil {
		logrus.Fatal("Role migration failed: ", err)
	}
	logrus.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"migrated": report.Migrated,
		"failed":   report.Failed,
		"dry_run":  report.DryRun,
	}).Info("Role migration finished")
}
