package app

import (
	"blocksign/internal/blockchain"
	"blocksign/internal/model"
	"blocksign/internal/notification"
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Repository is the persistence boundary. Implementations must make
// RecordDecision and the Mark* transitions conditional updates so that
// concurrent calls for the same document serialize correctly.
type Repository interface {
	InsertDocument(ctx context.Context, doc model.Document) error
	GetDocument(ctx context.Context, docID string) (model.Document, error)
	RecordDecision(ctx context.Context, docID string, userID string, decision model.Decision, reason string, sig *model.Signature) (model.Document, error)
	MarkSigned(ctx context.Context, docID string) (bool, error)
	MarkRejected(ctx context.Context, docID string) (bool, error)
	SetAnchor(ctx context.Context, docID string, anchor model.Anchor) error
	SetStorageKey(ctx context.Context, docID string, key string) error
	FindSignedByHash(ctx context.Context, sha256Hex string) (model.Document, error)
	GetUserDocuments(ctx context.Context, userID string) ([]model.Document, error)
	CountAnchored(ctx context.Context) (int64, error)
	ListAnchored(ctx context.Context, limit int64) ([]model.Document, error)
	AnchorStats(ctx context.Context) (model.AnchorStats, error)
}

// UserDirectory resolves untrusted usernames and ids to registered users.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	ListUsersByUsernames(ctx context.Context, usernames []string) ([]model.User, error)
	SetUserPublicKey(ctx context.Context, username string, publicKeyHex string) error
}

// Anchorer commits document metadata to a chain. Nil means anchoring is
// not configured; signing still completes and the anchor step is skipped.
type Anchorer interface {
	Anchor(ctx context.Context, meta blockchain.Metadata) (model.Anchor, error)
	VerifyTransaction(ctx context.Context, txID string) (blockchain.Verification, error)
	Address() string
	Network() string
	Balance(ctx context.Context) (string, error)
}

// ObjectStore holds the PDF bytes. Failures after a committed state
// transition are logged, never propagated as transition failures.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, sha256Hex string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Relocate(ctx context.Context, key string) (string, error)
	PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Notifier delivers outcome events, fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, event notification.Event)
}

type App struct {
	logger   *zap.Logger
	db       Repository
	users    UserDirectory
	anchorer Anchorer
	store    ObjectStore
	notifier Notifier

	anchorTimeout time.Duration
	linkTTL       time.Duration
}

type Options struct {
	AnchorTimeout time.Duration
	LinkTTL       time.Duration
}

func NewApp(logger *zap.Logger, db Repository, users UserDirectory, anchorer Anchorer, store ObjectStore, notifier Notifier, opts Options) App {
	if opts.AnchorTimeout == 0 {
		opts.AnchorTimeout = 90 * time.Second
	}
	if opts.LinkTTL == 0 {
		opts.LinkTTL = 10 * time.Minute
	}

	return App{
		logger:        logger,
		db:            db,
		users:         users,
		anchorer:      anchorer,
		store:         store,
		notifier:      notifier,
		anchorTimeout: opts.AnchorTimeout,
		linkTTL:       opts.LinkTTL,
	}
}

// AnchoringEnabled reports whether an anchoring backend is configured.
func (a App) AnchoringEnabled() bool {
	return a.anchorer != nil
}
