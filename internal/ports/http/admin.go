package http

import (
	"blocksign/internal/blockchain"
	"blocksign/internal/model"
	"blocksign/internal/ports/http/middleware/auth"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// requireAdmin loads the caller's profile and checks the admin role.
func (ser server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller, _, err := ser.app.GetProfile(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		ser.appError(w, err)
		return false
	}
	if caller.Role != model.RoleAdmin {
		ser.respondError(w, http.StatusForbidden, "admin role required")
		return false
	}
	return true
}

func (ser server) retryAnchor(w http.ResponseWriter, r *http.Request) {
	if !ser.requireAdmin(w, r) {
		return
	}

	docID := normalize(mux.Vars(r)["documentID"])
	ser.logger.Info("anchor retry requested", zap.String("docID", docID))

	anchor, err := ser.app.RetryAnchor(r.Context(), docID)
	if err != nil {
		ser.appError(w, err)
		return
	}

	ser.respondJSON(w, http.StatusOK, retrievedAnchor{
		TxID:        anchor.TxID,
		Network:     anchor.Network,
		ExplorerURL: anchor.ExplorerURL,
		BlockNumber: anchor.BlockNumber,
		AnchoredAt:  anchor.AnchoredAt,
	})
}

type walletInfoResponse struct {
	Address       string `json:"address"`
	Balance       string `json:"balance"`
	Network       string `json:"network"`
	TotalAnchored int64  `json:"totalAnchored"`
}

func (ser server) getWalletInfo(w http.ResponseWriter, r *http.Request) {
	if !ser.requireAdmin(w, r) {
		return
	}

	info, err := ser.app.GetWalletInfo(r.Context())
	if err != nil {
		ser.appError(w, err)
		return
	}

	ser.respondJSON(w, http.StatusOK, walletInfoResponse{
		Address:       info.Address,
		Balance:       info.Balance,
		Network:       info.Network,
		TotalAnchored: info.TotalAnchored,
	})
}

func (ser server) getAnchoredDocuments(w http.ResponseWriter, r *http.Request) {
	if !ser.requireAdmin(w, r) {
		return
	}

	docs, err := ser.app.ListAnchoredDocuments(r.Context())
	if err != nil {
		ser.appError(w, err)
		return
	}

	retDocs := make([]retrievedDocument, len(docs))
	for i, doc := range docs {
		retDocs[i].assign(doc)
	}

	ser.respondJSON(w, http.StatusOK, retDocs)
}

type chainStatsResponse struct {
	TotalDocuments    int64   `json:"totalDocuments"`
	TotalSigned       int64   `json:"totalSigned"`
	TotalAnchored     int64   `json:"totalAnchored"`
	PendingAnchoring  int64   `json:"pendingAnchoring"`
	AnchorSuccessRate float64 `json:"anchorSuccessRate"`
}

func (ser server) getChainStats(w http.ResponseWriter, r *http.Request) {
	if !ser.requireAdmin(w, r) {
		return
	}

	stats, err := ser.app.GetChainStats(r.Context())
	if err != nil {
		ser.appError(w, err)
		return
	}

	ser.respondJSON(w, http.StatusOK, chainStatsResponse{
		TotalDocuments:    stats.TotalDocuments,
		TotalSigned:       stats.TotalSigned,
		TotalAnchored:     stats.TotalAnchored,
		PendingAnchoring:  stats.PendingAnchoring,
		AnchorSuccessRate: stats.AnchorSuccessRate,
	})
}

type transactionResponse struct {
	TxID        string               `json:"txId"`
	From        string               `json:"from"`
	Confirmed   bool                 `json:"confirmed"`
	BlockNumber uint64               `json:"blockNumber,omitempty"`
	ExplorerURL string               `json:"explorerUrl"`
	Metadata    *blockchain.Metadata `json:"metadata,omitempty"`
	CheckedAt   time.Time            `json:"checkedAt"`
}

func (ser server) verifyTransaction(w http.ResponseWriter, r *http.Request) {
	if !ser.requireAdmin(w, r) {
		return
	}

	txID := normalize(mux.Vars(r)["txID"])

	verification, err := ser.app.VerifyAnchorTransaction(r.Context(), txID)
	if err != nil {
		ser.appError(w, err)
		return
	}

	ser.respondJSON(w, http.StatusOK, transactionResponse{
		TxID:        verification.TxID,
		From:        verification.From,
		Confirmed:   verification.Confirmed,
		BlockNumber: verification.BlockNumber,
		ExplorerURL: verification.ExplorerURL,
		Metadata:    verification.Metadata,
		CheckedAt:   time.Now().UTC(),
	})
}
