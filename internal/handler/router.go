package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"trustgate/internal/authz"
	"trustgate/internal/domain"
	"trustgate/internal/middleware"
	"trustgate/pkg/logger"
)

// RouterDeps collects everything the HTTP surface needs.
type RouterDeps struct {
	Verification *VerificationHandler
	KYC          *KYCHandler
	Admin        *AdminHandler
	Gate         *authz.Gate
	JWTSecret    string
	Redis        *redis.Client
	Logger       logger.Logger
}

// NewRouter assembles the route table. Protected routes run through the
// authorization gate with the requirement each operation demands.
func NewRouter(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger).Log)

	r.HandleFunc("/health", healthCheck).Methods("GET")

	authMW := middleware.NewAuthMiddleware(deps.JWTSecret)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)

	guard := gateGuard{gate: deps.Gate, logger: deps.Logger}

	// User surface. Everything here needs only authentication: the
	// state machine accepts KYC submissions from UNVERIFIED users too,
	// so the submit route must not demand a tier the submission itself
	// would grant.
	api.Handle("/verification/status",
		guard.require(authz.Requirement{}, http.HandlerFunc(deps.Verification.Status))).Methods("GET")
	api.Handle("/profile",
		guard.require(authz.Requirement{}, http.HandlerFunc(deps.Verification.UpdateProfile))).Methods("PUT")

	submit := guard.require(authz.Requirement{}, http.HandlerFunc(deps.KYC.Submit))
	if deps.Redis != nil {
		idemMW := middleware.NewIdempotencyMiddleware(deps.Redis, 24*time.Hour)
		submit = idemMW.Require(submit)
	}
	api.Handle("/kyc/submissions", submit).Methods("POST")
	api.Handle("/kyc/submissions/latest",
		guard.require(authz.Requirement{}, http.HandlerFunc(deps.KYC.Latest))).Methods("GET")

	// Admin surface. The gate requires the admin role; the admin
	// service validates the actor again below the handlers.
	adminReq := authz.Requirement{Role: domain.RoleAdmin}
	adm := api.PathPrefix("/admin").Subrouter()
	adm.Handle("/kyc/submissions/{id}/review",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.Review))).Methods("POST")
	adm.Handle("/kyc/submissions/{id}/audit",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.SubmissionAudit))).Methods("GET")
	adm.Handle("/users/{id}",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.UserState))).Methods("GET")
	adm.Handle("/users/{id}/events",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.UserEvents))).Methods("GET")
	adm.Handle("/users/{id}/risk-adjust",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.AdjustScore))).Methods("POST")
	adm.Handle("/users/{id}/lock",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.Lock))).Methods("POST")
	adm.Handle("/users/{id}/unlock",
		guard.require(adminReq, http.HandlerFunc(deps.Admin.Unlock))).Methods("POST")

	return r
}

type gateGuard struct {
	gate   *authz.Gate
	logger logger.Logger
}

// require wraps a handler with a gate check. The check always runs
// against the caller's own account, so a locked admin is refused too.
func (g gateGuard) require(req authz.Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.PrincipalFromContext(r.Context())

		decision, err := g.gate.Check(r.Context(), principal, req)
		if err != nil {
			respondServiceError(w, g.logger, err)
			return
		}
		if !decision.Allowed {
			respondDenied(w, g.logger, decision)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
