package model

import (
	"time"

	"github.com/google/uuid"
)

type DocStatus string

const (
	DocStatusPending  DocStatus = "PENDING"
	DocStatusSigned   DocStatus = "SIGNED"
	DocStatusRejected DocStatus = "REJECTED"
)

func (status DocStatus) String() string {
	return string(status)
}

// IsTerminal reports whether the status allows no further transitions.
func (status DocStatus) IsTerminal() bool {
	return status == DocStatusSigned || status == DocStatusRejected
}

type Decision string

const (
	DecisionSigned   Decision = "SIGNED"
	DecisionRejected Decision = "REJECTED"
)

// Participant is a user invited to decide on a document. The decision is
// write-once: once set it never changes.
type Participant struct {
	UserID   string
	Username string
	Email    string
	Required bool

	Decision  *Decision
	Reason    string
	DecidedAt *time.Time
}

// Signature records one verified signature per (document, signer).
type Signature struct {
	UserID       string
	Username     string
	Algorithm    string
	SignatureB64 string
	SignedAt     time.Time
}

// Anchor is the on-chain commitment receipt, set exactly once after the
// document reaches SIGNED.
type Anchor struct {
	TxID        string
	Network     string
	ExplorerURL string
	BlockNumber uint64
	AnchoredAt  time.Time
}

// AnchorStats summarizes the anchoring backlog across all documents.
type AnchorStats struct {
	TotalDocuments   int64
	TotalSigned      int64
	TotalAnchored    int64
	PendingAnchoring int64
}

// Document is the aggregate root. Hash, title and the stored canonical
// payload are immutable once created; the payload is never rebuilt because
// a different serialization would invalidate prior signatures.
type Document struct {
	ID            string
	OwnerID       string
	OwnerUsername string

	Title     string
	SHA256Hex string
	MimeType  string
	SizeBytes int64

	CanonicalPayload []byte
	PayloadVersion   string

	Status     DocStatus
	StorageKey string

	Participants []Participant
	Signatures   []Signature
	Anchor       *Anchor

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewDocumentID() string {
	return uuid.NewString()
}

// RequiredSignatureCount is the number of participants flagged required.
// The creator's own signature, recorded at creation, counts towards it.
func (d Document) RequiredSignatureCount() int {
	count := 0
	for _, p := range d.Participants {
		if p.Required {
			count++
		}
	}
	return count
}

func (d Document) SignedCount() int {
	return len(d.Signatures)
}

// ThresholdReached applies the single threshold rule used everywhere:
// recorded signatures (creator's included) >= required participants.
func (d Document) ThresholdReached() bool {
	return d.SignedCount() >= d.RequiredSignatureCount()
}

func (d Document) ParticipantFor(userID string) (Participant, bool) {
	for _, p := range d.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (d Document) HasSignatureFrom(userID string) bool {
	for _, s := range d.Signatures {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantEmails returns the notification recipients, excluding the
// given user ids (typically the actor triggering the event).
func (d Document) ParticipantEmails(exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var emails []string
	for _, p := range d.Participants {
		if p.Email != "" && !skip[p.UserID] {
			emails = append(emails, p.Email)
		}
	}
	return emails
}
