package routes

import (
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/api/rest/handlers"
	"escrowflow/dispute"
	"escrowflow/identity"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/platform"
)

// Deps carries the wired services the API serves.
type Deps struct {
	Pool     *pgxpool.Pool
	Auth     *identity.Service
	Jobs     *job.Service
	Platform *platform.Service
	Accounts *ledger.Service
	Disputes *dispute.Service
}

// SetupRoutes mounts all API routes on the router. Everything except
// registration and login sits behind bearer auth.
func SetupRoutes(r *mux.Router, deps Deps) {
	r.Use(handlers.RequestID)

	authHandler := handlers.NewAuthHandler(deps.Auth)
	jobHandler := handlers.NewJobHandler(deps.Jobs)
	platformHandler := handlers.NewPlatformHandler(deps.Platform)
	accountHandler := handlers.NewAccountHandler(deps.Pool, deps.Accounts)
	disputeHandler := handlers.NewDisputeHandler(deps.Disputes)

	public := r.PathPrefix("/v1").Subrouter()
	public.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	public.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(handlers.RequireAuth(deps.Auth))

	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")

	api.HandleFunc("/platform/init", platformHandler.Initialize).Methods("POST")
	api.HandleFunc("/platform/ops", platformHandler.UpdateOps).Methods("PUT")
	api.HandleFunc("/platform/config", platformHandler.GetConfig).Methods("GET")

	api.HandleFunc("/jobs", jobHandler.CreateJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/fund", jobHandler.FundJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/submit", jobHandler.SubmitResult).Methods("POST")
	api.HandleFunc("/jobs/{id}/review", jobHandler.ReviewJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/timeout", jobHandler.TriggerTimeout).Methods("POST")
	api.HandleFunc("/jobs/{id}/resolve", jobHandler.ResolveDispute).Methods("POST")
	api.HandleFunc("/jobs/{id}/dispute", disputeHandler.GetForJob).Methods("GET")

	api.HandleFunc("/disputes", disputeHandler.ListOpen).Methods("GET")
	api.HandleFunc("/disputes/resolved", disputeHandler.ListResolved).Methods("GET")

	api.HandleFunc("/accounts/me", accountHandler.GetMyAccount).Methods("GET")
	api.HandleFunc("/accounts/me/entries", accountHandler.ListMyEntries).Methods("GET")
	api.HandleFunc("/accounts/me/deposit", accountHandler.Deposit).Methods("POST")
}
