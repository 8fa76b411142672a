package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/challenge"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/verifier"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string, details any) {
	respondJSON(w, status, ErrorResponse{Code: code, Message: message, Details: details})
}

// respondAppError maps a service error onto the error taxonomy's status and code.
func (a *API) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.New(err, "")
	if appErr.StatusCode >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("request_id", RequestID(r.Context())).Error("request failed")
		if appErr.Code == apperrors.ReasonInternal {
			appErr.Message = "internal server error"
		}
	}
	respondError(w, appErr.StatusCode, appErr.Code, appErr.Message, nil)
}

// decode reads a JSON body into dst and validates it. It writes the error response itself
// and reports whether the handler should continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload", "cannot parse JSON body", err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.ReasonInvalidArgument, "request validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	out := map[string]string{}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			out[fe.Field()] = fe.Tag()
		}
	}
	return out
}

func (a *API) HandleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !a.decode(w, r, &req) {
		return
	}
	c, err := a.issuer.Issue(r.Context(), challenge.IssueRequest{
		CommunityID:   req.community(),
		Action:        req.Action,
		CustomMessage: req.customMessage(),
	})
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (a *API) HandleGetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := a.issuer.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (a *API) HandleValidateChallenge(w http.ResponseWriter, r *http.Request) {
	st, err := a.issuer.Validate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (a *API) HandleListChallenges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ChallengeFilter{
		CommunityID:     q.Get("community_id"),
		IncludeConsumed: q.Get("include_consumed") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, apperrors.ReasonInvalidArgument, "limit must be a non-negative integer", nil)
			return
		}
		filter.Limit = limit
	}
	list, err := a.issuer.List(r.Context(), filter)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Challenge{}
	}
	respondJSON(w, http.StatusOK, ChallengeListResponse{Total: len(list), Challenges: list})
}

// HandleVerify answers 200 for every protocol outcome; the reason field carries failures.
func (a *API) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !a.decode(w, r, &req) {
		return
	}

	var (
		res *models.VerificationResult
		err error
	)
	if req.Register {
		res, err = a.verifier.VerifyAndRegister(r.Context(), req.submission(), verifier.Enrollment{StakeAddress: req.StakeAddress})
	} else {
		res, err = a.verifier.Verify(r.Context(), req.submission())
	}
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) HandleVerifyBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchVerifyRequest
	if !a.decode(w, r, &req) {
		return
	}
	out, err := a.verifier.VerifyBatch(r.Context(), req.Submissions)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
