package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

func (a *API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Time: a.now().Unix()})
}

// HandleStake proxies the stake oracle. Oracle failures surface as 503.
func (a *API) HandleStake(w http.ResponseWriter, r *http.Request) {
	if a.oracle == nil {
		respondError(w, http.StatusServiceUnavailable, apperrors.ReasonUnavailable, "stake oracle not configured", nil)
		return
	}
	info, err := a.oracle.LookupStake(r.Context(), mux.Vars(r)["stake_address"])
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (a *API) HandleVerificationLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AuditFilter{CommunityID: q.Get("community_id")}
	for key, dst := range map[string]*int64{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, apperrors.ReasonInvalidArgument, key+" must be a unix timestamp", nil)
			return
		}
		*dst = v
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, apperrors.ReasonInvalidArgument, "limit must be a non-negative integer", nil)
			return
		}
		filter.Limit = limit
	}

	report, err := a.audit.VerificationLog(r.Context(), filter)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if report.Events == nil {
		report.Events = []*models.AuditEvent{}
	}
	respondJSON(w, http.StatusOK, report)
}

func (a *API) HandleCommunityReport(w http.ResponseWriter, r *http.Request) {
	rep, err := a.registry.CommunityReport(r.Context(), mux.Vars(r)["community_id"])
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}
