package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/audit"
	"github.com/Maphikza/cardano-community-suite/internal/challenge"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/oracle"
	"github.com/Maphikza/cardano-community-suite/internal/registry"
	"github.com/Maphikza/cardano-community-suite/internal/verifier"
)

// Version is reported by /health.
var Version = "dev"

// maxBodyBytes bounds request bodies; a full batch of 100 submissions fits comfortably.
const maxBodyBytes = 1 << 20

type Deps struct {
	Issuer   challenge.Issuer
	Verifier verifier.Verifier
	Registry registry.Registry
	Oracle   oracle.Oracle
	Audit    audit.Logger
	JWTKey   []byte
	Log      *logrus.Entry
	Clock    func() time.Time
}

type API struct {
	issuer   challenge.Issuer
	verifier verifier.Verifier
	registry registry.Registry
	oracle   oracle.Oracle
	audit    audit.Logger
	jwtKey   []byte
	log      *logrus.Entry
	now      func() time.Time
	validate *validator.Validate
}

func NewAPI(d Deps) *API {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &API{
		issuer:   d.Issuer,
		verifier: d.Verifier,
		registry: d.Registry,
		oracle:   d.Oracle,
		audit:    d.Audit,
		jwtKey:   d.JWTKey,
		log:      logger.OrDiscard(d.Log),
		now:      d.Clock,
		validate: validator.New(),
	}
}

// Router wires every route. CORS is applied by the server around the returned handler.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware, ErrorMiddleware(a.log), LoggingMiddleware(a.log), JSONContentTypeMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet)

	r.HandleFunc("/challenge", a.HandleIssueChallenge).Methods(http.MethodPost)
	r.HandleFunc("/challenge/{id}", a.HandleGetChallenge).Methods(http.MethodGet)
	r.HandleFunc("/challenge/{id}/validate", a.HandleValidateChallenge).Methods(http.MethodGet)

	r.HandleFunc("/verify", a.HandleVerify).Methods(http.MethodPost)
	r.HandleFunc("/verify/batch", a.HandleVerifyBatch).Methods(http.MethodPost)

	r.HandleFunc("/register", a.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/registry", a.HandleListRegistry).Methods(http.MethodGet)
	r.HandleFunc("/registry/stats", a.HandleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/registry/wallet/{wallet}", a.HandleFindWallet).Methods(http.MethodGet)
	r.HandleFunc("/registry/{id}", a.HandleGetEntry).Methods(http.MethodGet)

	r.HandleFunc("/stake/{stake_address}", a.HandleStake).Methods(http.MethodGet)

	admin := r.NewRoute().Subrouter()
	admin.Use(AdminMiddleware(a.jwtKey, a.log))
	admin.HandleFunc("/challenges", a.HandleListChallenges).Methods(http.MethodGet)
	admin.HandleFunc("/registry/{id}/status", a.HandleUpdateStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/registry/{id}", a.HandleDeleteEntry).Methods(http.MethodDelete)
	admin.HandleFunc("/reports/verification-log", a.HandleVerificationLog).Methods(http.MethodGet)
	admin.HandleFunc("/reports/community/{community_id}", a.HandleCommunityReport).Methods(http.MethodGet)

	return r
}
