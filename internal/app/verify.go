package app

import (
	"blocksign/internal/blockchain"
	"blocksign/internal/hashing"
	"blocksign/internal/model"
	"blocksign/internal/repository/mongodb"
	"blocksign/internal/signature"
	"context"
	"errors"

	"go.uber.org/zap"
)

// VerifyResult is the public attestation lookup outcome. Only SIGNED
// documents are valid proofs; the lookup never reveals pending or
// rejected documents.
type VerifyResult struct {
	Match     bool
	SHA256Hex string
	Document  *model.Document
}

// VerifyByHash recomputes the file hash and looks up a SIGNED document
// with it. A miss is a normal result, not an error.
func (a App) VerifyByHash(ctx context.Context, fileBytes []byte) (VerifyResult, error) {
	fileHash := hashing.CalculateSHA256(fileBytes)

	doc, err := a.db.FindSignedByHash(ctx, fileHash)
	if err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return VerifyResult{Match: false, SHA256Hex: fileHash}, nil
		}
		return VerifyResult{}, err
	}

	return VerifyResult{Match: true, SHA256Hex: fileHash, Document: &doc}, nil
}

// RetryAnchor re-runs anchoring for a SIGNED document that has none yet.
func (a App) RetryAnchor(ctx context.Context, docID string) (model.Anchor, error) {
	doc, err := a.db.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return model.Anchor{}, ErrNotFound
		}
		return model.Anchor{}, err
	}

	if doc.Status != model.DocStatusSigned {
		return model.Anchor{}, ErrNotSigned
	}
	if doc.Anchor != nil {
		return model.Anchor{}, ErrAlreadyAnchored
	}
	if a.anchorer == nil {
		return model.Anchor{}, ErrAnchoringDisabled
	}

	anchor, err := a.anchorDocument(ctx, doc)
	if err != nil {
		return model.Anchor{}, err
	}

	if err := a.db.SetAnchor(ctx, docID, anchor); err != nil {
		if errors.Is(err, mongodb.ErrAnchorAlreadySet) {
			return model.Anchor{}, ErrAlreadyAnchored
		}
		return model.Anchor{}, err
	}

	a.logger.Info("anchor retry succeeded", zap.String("docID", docID), zap.String("txID", anchor.TxID))
	return anchor, nil
}

// VerifyAnchorTransaction looks a transaction up on chain and decodes its
// metadata.
func (a App) VerifyAnchorTransaction(ctx context.Context, txID string) (blockchain.Verification, error) {
	if a.anchorer == nil {
		return blockchain.Verification{}, ErrAnchoringDisabled
	}
	return a.anchorer.VerifyTransaction(ctx, txID)
}

type WalletInfo struct {
	Address       string
	Balance       string
	Network       string
	TotalAnchored int64
}

func (a App) GetWalletInfo(ctx context.Context) (WalletInfo, error) {
	if a.anchorer == nil {
		return WalletInfo{}, ErrAnchoringDisabled
	}

	balance, err := a.anchorer.Balance(ctx)
	if err != nil {
		return WalletInfo{}, err
	}

	anchored, err := a.db.CountAnchored(ctx)
	if err != nil {
		return WalletInfo{}, err
	}

	return WalletInfo{
		Address:       a.anchorer.Address(),
		Balance:       balance,
		Network:       a.anchorer.Network(),
		TotalAnchored: anchored,
	}, nil
}

// anchoredListLimit caps the admin chain view at the most recent anchors.
const anchoredListLimit = 100

// ListAnchoredDocuments returns the latest anchored documents for the
// admin chain view.
func (a App) ListAnchoredDocuments(ctx context.Context) ([]model.Document, error) {
	return a.db.ListAnchored(ctx, anchoredListLimit)
}

// ChainStats is the anchoring overview: document counters plus the share
// of signed documents that made it on chain.
type ChainStats struct {
	TotalDocuments    int64
	TotalSigned       int64
	TotalAnchored     int64
	PendingAnchoring  int64
	AnchorSuccessRate float64
}

func (a App) GetChainStats(ctx context.Context) (ChainStats, error) {
	stats, err := a.db.AnchorStats(ctx)
	if err != nil {
		return ChainStats{}, err
	}

	chainStats := ChainStats{
		TotalDocuments:   stats.TotalDocuments,
		TotalSigned:      stats.TotalSigned,
		TotalAnchored:    stats.TotalAnchored,
		PendingAnchoring: stats.PendingAnchoring,
	}
	if stats.TotalSigned > 0 {
		chainStats.AnchorSuccessRate = float64(stats.TotalAnchored) / float64(stats.TotalSigned)
	}

	return chainStats, nil
}

// DocumentURL returns a short-lived download link, owner and participants
// only.
func (a App) DocumentURL(ctx context.Context, docID string, userID string) (string, error) {
	doc, err := a.db.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if doc.OwnerID != userID {
		if _, ok := doc.ParticipantFor(userID); !ok {
			return "", ErrForbidden
		}
	}

	if doc.StorageKey == "" || a.store == nil {
		return "", ErrFileUnavailable
	}

	return a.store.PresignedGetURL(ctx, doc.StorageKey, a.linkTTL)
}

// GetProfile returns the user and every document they own or decide on.
func (a App) GetProfile(ctx context.Context, userID string) (model.User, []model.Document, error) {
	user, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return model.User{}, nil, ErrNotFound
		}
		return model.User{}, nil, err
	}

	docs, err := a.db.GetUserDocuments(ctx, userID)
	if err != nil {
		return model.User{}, nil, err
	}

	return user, docs, nil
}

// RegisterUserKey stores a user's public key after checking it decodes to
// a valid key for the signature suite.
func (a App) RegisterUserKey(ctx context.Context, username string, publicKeyHex string) error {
	if _, err := signature.DecodePublicKeyHex(publicKeyHex); err != nil {
		return err
	}

	if err := a.users.SetUserPublicKey(ctx, username, publicKeyHex); err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	a.logger.Info("signing key registered", zap.String("username", username))
	return nil
}
