package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/internal/registry"
)

func (a *API) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if !a.decode(w, r, &req) {
		return
	}
	entry, err := a.registry.Register(r.Context(), req)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (a *API) HandleListRegistry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.registry.List(r.Context(), models.EntryFilter{
		CommunityID: q.Get("community_id"),
		Status:      q.Get("status"),
	})
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse(entries))
}

func (a *API) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := a.registry.Statistics(r.Context())
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) HandleFindWallet(w http.ResponseWriter, r *http.Request) {
	entries, err := a.registry.Find(r.Context(), mux.Vars(r)["wallet"], r.URL.Query().Get("community_id"))
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse(entries))
}

func (a *API) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (a *API) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	entry, err := a.registry.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (a *API) HandleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.registry.Delete(r.Context(), id); err != nil {
		a.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func listResponse(entries []*models.RegistryEntry) ListResponse {
	if entries == nil {
		entries = []*models.RegistryEntry{}
	}
	return ListResponse{Total: len(entries), Users: entries}
}
