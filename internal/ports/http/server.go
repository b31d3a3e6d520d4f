package http

import (
	"blocksign/internal/app"
	"blocksign/internal/blockchain"
	"blocksign/internal/canonical"
	"blocksign/internal/ports/http/middleware/cors"
	"blocksign/internal/signature"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type server struct {
	app        app.App
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
	authorize  func(next http.Handler) http.Handler
}

func NewServer(logger *zap.Logger, a app.App, address string, authorize func(next http.Handler) http.Handler) server {
	return server{
		app:       a,
		addr:      address,
		logger:    logger,
		authorize: authorize,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (ser server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		ser.logger.Error("failed to write an error response: " + err.Error())
	}

	if status >= http.StatusInternalServerError {
		ser.logger.Error(message)
	} else {
		ser.logger.Warn(message)
	}
}

func (ser server) badRequest(w http.ResponseWriter, message string) {
	ser.respondError(w, http.StatusBadRequest, message)
}

func (ser server) serverError(w http.ResponseWriter, message string) {
	ser.respondError(w, http.StatusInternalServerError, message)
}

// appError maps the application error taxonomy onto HTTP statuses. Errors
// outside the taxonomy are internal.
func (ser server) appError(w http.ResponseWriter, err error) {
	var unknown app.UnknownParticipantsError

	switch {
	case errors.Is(err, app.ErrNotFound):
		ser.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrNotAParticipant):
		ser.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrDuplicateDocument),
		errors.Is(err, app.ErrNotPending),
		errors.Is(err, app.ErrAlreadyDecided),
		errors.Is(err, app.ErrAlreadyAnchored):
		ser.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrHashMismatch),
		errors.Is(err, app.ErrInvalidSignature),
		errors.Is(err, app.ErrMissingSigningKey),
		errors.Is(err, signature.ErrMalformedCredential),
		errors.Is(err, canonical.ErrInvalidInput),
		errors.As(err, &unknown):
		ser.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrFileUnavailable), errors.Is(err, app.ErrNotSigned):
		ser.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrAnchoringDisabled):
		ser.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, blockchain.ErrTransactionNotFound):
		ser.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, blockchain.ErrAnchorFailed), errors.Is(err, blockchain.ErrAnchorTimeout):
		ser.respondError(w, http.StatusBadGateway, err.Error())
	default:
		ser.serverError(w, err.Error())
	}
}

func (ser server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	response, err := json.Marshal(body)
	if err != nil {
		ser.serverError(w, "marshalling the response failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		ser.logger.Error("failed to write the response: " + err.Error())
	}
}

func (ser server) registerHandlers(router *mux.Router) {

	router.HandleFunc("/health", healthcheck)

	// verification is public by design, anyone holding a file may check it
	router.HandleFunc("/api/documents/verify", ser.verifyDocument).Methods(http.MethodPost)

	protected := func(h http.HandlerFunc) http.Handler {
		if ser.authorize == nil {
			return h
		}
		return ser.authorize(h)
	}

	router.Handle("/api/documents", protected(ser.postDocument)).Methods(http.MethodPost)
	router.Handle("/api/documents/{documentID}/url", protected(ser.getDocumentURL)).Methods(http.MethodGet)
	router.Handle("/api/documents/{documentID}/sign", protected(ser.signDocument)).Methods(http.MethodPost)
	router.Handle("/api/documents/{documentID}/reject", protected(ser.rejectDocument)).Methods(http.MethodPost)

	router.Handle("/api/me", protected(ser.getProfile)).Methods(http.MethodGet)
	router.Handle("/api/users/{username}/key", protected(ser.putUserKey)).Methods(http.MethodPut)

	router.Handle("/api/admin/documents/{documentID}/retry-anchor", protected(ser.retryAnchor)).Methods(http.MethodPost)
	router.Handle("/api/admin/wallet/info", protected(ser.getWalletInfo)).Methods(http.MethodGet)
	router.Handle("/api/admin/blockchain/documents", protected(ser.getAnchoredDocuments)).Methods(http.MethodGet)
	router.Handle("/api/admin/blockchain/stats", protected(ser.getChainStats)).Methods(http.MethodGet)
	router.Handle("/api/admin/blockchain/verify/{txID}", protected(ser.verifyTransaction)).Methods(http.MethodGet)
}

func healthcheck(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("all good here"))
}

func normalize(param string) string {
	return strings.TrimSpace(param)
}

func (ser server) Run() error {
	router := mux.NewRouter()
	ser.registerHandlers(router)

	handler := cors.AddCorsPolicy(router)
	ser.httpServer = &http.Server{
		Handler: handler,
		Addr:    ser.addr,
	}

	ser.logger.Info("http server listening", zap.String("addr", ser.addr))
	return ser.httpServer.ListenAndServe()
}
