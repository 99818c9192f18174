package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"escrowflow/api/rest/routes"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/identity"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/platform"
	"escrowflow/settlement"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	authService := identity.NewService(identity.NewRepository(pool), cfg.JWTSecret)
	platformService := platform.NewService(pool, platform.NewRepository(pool))
	jobService := job.NewService(pool, job.NewRepository(pool), settlement.NewEngine(), platformService)
	accountService := ledger.NewService(ledger.NewAccountRepository(pool))
	disputeService := dispute.NewService(dispute.NewRepository(pool))

	router := mux.NewRouter()
	routes.SetupRoutes(router, routes.Deps{
		Pool:     pool,
		Auth:     authService,
		Jobs:     jobService,
		Platform: platformService,
		Accounts: accountService,
		Disputes: disputeService,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("escrowflow API listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
