package http

import (
	"blocksign/internal/model"
	"blocksign/internal/ports/http/middleware/auth"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

type retrievedProfile struct {
	ID        string              `json:"id"`
	Username  string              `json:"username"`
	Email     string              `json:"email"`
	FullName  string              `json:"fullName,omitempty"`
	HasKey    bool                `json:"hasSigningKey"`
	Documents []retrievedDocument `json:"documents"`
}

func (ser server) getProfile(w http.ResponseWriter, r *http.Request) {
	user, docs, err := ser.app.GetProfile(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		ser.appError(w, err)
		return
	}

	profile := retrievedProfile{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		HasKey:    user.HasSigningKey(),
		Documents: make([]retrievedDocument, len(docs)),
	}
	for i, doc := range docs {
		profile.Documents[i].assign(doc)
	}

	ser.respondJSON(w, http.StatusOK, profile)
}

type putKeyRequest struct {
	PublicKeyHex string `json:"publicKeyHex"`
}

func (ser server) putUserKey(w http.ResponseWriter, r *http.Request) {
	username := normalize(mux.Vars(r)["username"])

	var body putKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ser.badRequest(w, "failed to decode the request body: "+err.Error())
		return
	}
	if normalize(body.PublicKeyHex) == "" {
		ser.badRequest(w, "publicKeyHex is missing")
		return
	}

	// users register keys for themselves only
	caller, _, err := ser.app.GetProfile(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		ser.appError(w, err)
		return
	}
	if !strings.EqualFold(caller.Username, username) && caller.Role != model.RoleAdmin {
		ser.respondError(w, http.StatusForbidden, "cannot register a key for another user")
		return
	}

	if err := ser.app.RegisterUserKey(r.Context(), username, normalize(body.PublicKeyHex)); err != nil {
		ser.appError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
