package mongodb

import (
	"blocksign/internal/model"
	"time"
)

const (
	documentsCollection = "documents"
	usersCollection     = "users"
)

type storedParticipant struct {
	UserID    string     `bson:"userId"`
	Username  string     `bson:"username"`
	Email     string     `bson:"email"`
	Required  bool       `bson:"required"`
	Decision  *string    `bson:"decision"`
	Reason    string     `bson:"reason,omitempty"`
	DecidedAt *time.Time `bson:"decidedAt,omitempty"`
}

type storedSignature struct {
	UserID       string    `bson:"userId"`
	Username     string    `bson:"username"`
	Algorithm    string    `bson:"alg"`
	SignatureB64 string    `bson:"signatureB64"`
	SignedAt     time.Time `bson:"signedAt"`
}

type storedAnchor struct {
	TxID        string    `bson:"txId"`
	Network     string    `bson:"network"`
	ExplorerURL string    `bson:"explorerUrl"`
	BlockNumber uint64    `bson:"blockNumber"`
	AnchoredAt  time.Time `bson:"anchoredAt"`
}

// storedDocument keeps participants, signatures and the anchor embedded so
// every state transition is one single-document, hence atomic, update.
type storedDocument struct {
	ID            string `bson:"_id"`
	OwnerID       string `bson:"ownerId"`
	OwnerUsername string `bson:"ownerUsername"`

	Title     string `bson:"title"`
	SHA256Hex string `bson:"sha256Hex"`
	MimeType  string `bson:"mimeType"`
	SizeBytes int64  `bson:"sizeBytes"`

	CanonicalPayload []byte `bson:"canonicalPayload"`
	PayloadVersion   string `bson:"payloadVersion"`

	Status     string `bson:"status"`
	StorageKey string `bson:"storageKey"`

	Participants []storedParticipant `bson:"participants"`
	Signatures   []storedSignature   `bson:"signatures"`
	Anchor       *storedAnchor       `bson:"anchor"`

	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type storedUser struct {
	ID           string `bson:"_id"`
	Username     string `bson:"username"`
	Email        string `bson:"email"`
	FullName     string `bson:"fullName"`
	Role         string `bson:"role"`
	PublicKeyHex string `bson:"publicKeyEd25519,omitempty"`
}

func toStoredDocument(doc model.Document) storedDocument {
	stored := storedDocument{
		ID:               doc.ID,
		OwnerID:          doc.OwnerID,
		OwnerUsername:    doc.OwnerUsername,
		Title:            doc.Title,
		SHA256Hex:        doc.SHA256Hex,
		MimeType:         doc.MimeType,
		SizeBytes:        doc.SizeBytes,
		CanonicalPayload: doc.CanonicalPayload,
		PayloadVersion:   doc.PayloadVersion,
		Status:           doc.Status.String(),
		StorageKey:       doc.StorageKey,
		Participants:     make([]storedParticipant, len(doc.Participants)),
		Signatures:       make([]storedSignature, len(doc.Signatures)),
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}

	for i, p := range doc.Participants {
		stored.Participants[i] = storedParticipant{
			UserID:    p.UserID,
			Username:  p.Username,
			Email:     p.Email,
			Required:  p.Required,
			Decision:  (*string)(p.Decision),
			Reason:    p.Reason,
			DecidedAt: p.DecidedAt,
		}
	}
	for i, s := range doc.Signatures {
		stored.Signatures[i] = storedSignature(s)
	}
	if doc.Anchor != nil {
		anchor := storedAnchor(*doc.Anchor)
		stored.Anchor = &anchor
	}

	return stored
}

func (stored storedDocument) toModel() model.Document {
	doc := model.Document{
		ID:               stored.ID,
		OwnerID:          stored.OwnerID,
		OwnerUsername:    stored.OwnerUsername,
		Title:            stored.Title,
		SHA256Hex:        stored.SHA256Hex,
		MimeType:         stored.MimeType,
		SizeBytes:        stored.SizeBytes,
		CanonicalPayload: stored.CanonicalPayload,
		PayloadVersion:   stored.PayloadVersion,
		Status:           model.DocStatus(stored.Status),
		StorageKey:       stored.StorageKey,
		Participants:     make([]model.Participant, len(stored.Participants)),
		Signatures:       make([]model.Signature, len(stored.Signatures)),
		CreatedAt:        stored.CreatedAt,
		UpdatedAt:        stored.UpdatedAt,
	}

	for i, p := range stored.Participants {
		doc.Participants[i] = model.Participant{
			UserID:    p.UserID,
			Username:  p.Username,
			Email:     p.Email,
			Required:  p.Required,
			Decision:  (*model.Decision)(p.Decision),
			Reason:    p.Reason,
			DecidedAt: p.DecidedAt,
		}
	}
	for i, s := range stored.Signatures {
		doc.Signatures[i] = model.Signature(s)
	}
	if stored.Anchor != nil {
		anchor := model.Anchor(*stored.Anchor)
		doc.Anchor = &anchor
	}

	return doc
}

func toStoredUser(user model.User) storedUser {
	return storedUser{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		FullName:     user.FullName,
		Role:         user.Role,
		PublicKeyHex: user.PublicKeyHex,
	}
}

func (stored storedUser) toModel() model.User {
	return model.User{
		ID:           stored.ID,
		Username:     stored.Username,
		Email:        stored.Email,
		FullName:     stored.FullName,
		Role:         stored.Role,
		PublicKeyHex: stored.PublicKeyHex,
	}
}
