package app

import (
	"blocksign/internal/blockchain"
	"blocksign/internal/canonical"
	"blocksign/internal/hashing"
	"blocksign/internal/model"
	"blocksign/internal/notification"
	"blocksign/internal/repository/mongodb"
	"blocksign/internal/signature"
	"blocksign/internal/storage"
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

type CreateDocumentRequest struct {
	OwnerID              string
	FileBytes            []byte
	DeclaredSHA256Hex    string
	Title                string
	ParticipantUsernames []string
	CreatorSignatureB64  string
	MimeType             string
}

// CreateDocument verifies the creator's signature over the canonical
// payload and creates the document in PENDING. The participant list is
// re-resolved against the user directory before any cryptographic
// material is built, so client-asserted casing never reaches the payload.
func (a App) CreateDocument(ctx context.Context, req CreateDocumentRequest) (model.Document, error) {
	declaredHash := strings.ToLower(req.DeclaredSHA256Hex)

	fileHash := hashing.CalculateSHA256(req.FileBytes)
	if fileHash != declaredHash {
		return model.Document{}, ErrHashMismatch
	}

	resolved, err := a.resolveParticipants(ctx, req.ParticipantUsernames)
	if err != nil {
		return model.Document{}, err
	}

	owner, err := a.users.GetUserByID(ctx, req.OwnerID)
	if err != nil {
		return model.Document{}, errors.New("failed to resolve the owner: " + err.Error())
	}
	if !owner.HasSigningKey() {
		return model.Document{}, ErrMissingSigningKey
	}

	usernames := make([]string, len(resolved))
	for i, u := range resolved {
		usernames[i] = u.Username
	}

	payload, err := canonical.Build(declaredHash, req.Title, usernames)
	if err != nil {
		return model.Document{}, err
	}

	if err := a.verifySignature(owner.PublicKeyHex, payload, req.CreatorSignatureB64); err != nil {
		return model.Document{}, err
	}

	now := time.Now().UTC()
	docID := model.NewDocumentID()

	doc := model.Document{
		ID:               docID,
		OwnerID:          owner.ID,
		OwnerUsername:    owner.Username,
		Title:            req.Title,
		SHA256Hex:        declaredHash,
		MimeType:         req.MimeType,
		SizeBytes:        int64(len(req.FileBytes)),
		CanonicalPayload: payload,
		PayloadVersion:   canonical.PayloadVersion,
		Status:           model.DocStatusPending,
		StorageKey:       storage.PendingKey(docID),
		Participants:     make([]model.Participant, len(resolved)),
		Signatures: []model.Signature{{
			UserID:       owner.ID,
			Username:     owner.Username,
			Algorithm:    signature.Suite,
			SignatureB64: req.CreatorSignatureB64,
			SignedAt:     now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, u := range resolved {
		p := model.Participant{
			UserID:   u.ID,
			Username: u.Username,
			Email:    u.Email,
			Required: true,
		}
		// the creator's own signature is their decision; recording it here
		// keeps the decision write-once even for the owner
		if u.ID == owner.ID {
			decided := model.DecisionSigned
			p.Decision = &decided
			p.DecidedAt = &now
		}
		doc.Participants[i] = p
	}

	if err := a.db.InsertDocument(ctx, doc); err != nil {
		if errors.Is(err, mongodb.ErrDuplicateHash) {
			return model.Document{}, ErrDuplicateDocument
		}
		return model.Document{}, err
	}

	a.logger.Info("document created",
		zap.String("docID", doc.ID),
		zap.String("owner", doc.OwnerUsername),
		zap.Int("participants", len(doc.Participants)))

	// the document exists from here on; side effects only get logged
	if a.store != nil {
		if err := a.store.Put(ctx, doc.StorageKey, req.FileBytes, declaredHash); err != nil {
			a.logger.Error("failed to store the document file: "+err.Error(), zap.String("docID", doc.ID))
		}
	}

	a.notifier.Notify(ctx, doc.ParticipantEmails(owner.ID), notification.Event{
		Kind:          notification.EventSignatureRequested,
		DocumentTitle: doc.Title,
	})

	return doc, nil
}

func (a App) resolveParticipants(ctx context.Context, usernames []string) ([]model.User, error) {
	// a repeated name in the request still means one participant row
	unique := make([]string, 0, len(usernames))
	seen := make(map[string]bool, len(usernames))
	for _, name := range usernames {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, name)
	}

	users, err := a.users.ListUsersByUsernames(ctx, unique)
	if err != nil {
		return nil, errors.New("failed to resolve the participants: " + err.Error())
	}

	if len(users) != len(unique) {
		found := make(map[string]bool, len(users))
		for _, u := range users {
			found[strings.ToLower(u.Username)] = true
		}

		var missing []string
		for _, name := range unique {
			if !found[strings.ToLower(name)] {
				missing = append(missing, name)
			}
		}
		return nil, UnknownParticipantsError{Usernames: missing}
	}

	return users, nil
}

func (a App) verifySignature(publicKeyHex string, payload []byte, sigB64 string) error {
	key, err := signature.DecodePublicKeyHex(publicKeyHex)
	if err != nil {
		return err
	}
	sig, err := signature.DecodeSignatureB64(sigB64)
	if err != nil {
		return err
	}

	ok, err := signature.Verify(key, payload, sig)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// SignDocument records one participant's signature over the stored
// canonical payload. When the required count is reached the document
// transitions to SIGNED and the anchor, relocation and notification side
// effects run; exactly one concurrent signer triggers them.
func (a App) SignDocument(ctx context.Context, docID string, signerID string, signatureB64 string) (model.Document, error) {
	doc, err := a.getPendingForDecision(ctx, docID, signerID)
	if err != nil {
		return model.Document{}, err
	}

	signer, err := a.users.GetUserByID(ctx, signerID)
	if err != nil {
		return model.Document{}, errors.New("failed to resolve the signer: " + err.Error())
	}
	if !signer.HasSigningKey() {
		return model.Document{}, ErrMissingSigningKey
	}

	// always the stored payload, never a rebuilt one
	if err := a.verifySignature(signer.PublicKeyHex, doc.CanonicalPayload, signatureB64); err != nil {
		return model.Document{}, err
	}

	sig := model.Signature{
		UserID:       signer.ID,
		Username:     signer.Username,
		Algorithm:    signature.Suite,
		SignatureB64: signatureB64,
		SignedAt:     time.Now().UTC(),
	}

	updated, err := a.db.RecordDecision(ctx, docID, signerID, model.DecisionSigned, "", &sig)
	if err != nil {
		return model.Document{}, a.mapDecisionConflict(ctx, err, docID, signerID)
	}

	a.logger.Info("signature recorded",
		zap.String("docID", docID),
		zap.String("signer", signer.Username),
		zap.Int("signed", updated.SignedCount()),
		zap.Int("required", updated.RequiredSignatureCount()))

	if !updated.ThresholdReached() {
		return updated, nil
	}

	won, err := a.db.MarkSigned(ctx, docID)
	if err != nil {
		return model.Document{}, err
	}
	updated.Status = model.DocStatusSigned
	if won {
		a.completeSigning(ctx, &updated)
	}

	return updated, nil
}

// completeSigning runs the post-transition side effects: best-effort
// anchoring, file relocation and notification. None of them can undo the
// SIGNED status.
func (a App) completeSigning(ctx context.Context, doc *model.Document) {
	a.logger.Info("document fully signed", zap.String("docID", doc.ID))

	if a.anchorer == nil {
		a.logger.Warn("anchoring skipped, no backend configured", zap.String("docID", doc.ID))
	} else {
		anchor, err := a.anchorDocument(ctx, *doc)
		if err != nil {
			a.logger.Error("anchoring failed, document stays signed without an anchor: "+err.Error(),
				zap.String("docID", doc.ID))
		} else if err := a.db.SetAnchor(ctx, doc.ID, anchor); err != nil {
			a.logger.Error("failed to persist the anchor: "+err.Error(), zap.String("docID", doc.ID))
		} else {
			doc.Anchor = &anchor
		}
	}

	if a.store != nil {
		newKey, err := a.store.Relocate(ctx, doc.StorageKey)
		if err != nil {
			a.logger.Error("failed to relocate the document file: "+err.Error(), zap.String("docID", doc.ID))
		} else if err := a.db.SetStorageKey(ctx, doc.ID, newKey); err != nil {
			a.logger.Error("failed to update the storage key: "+err.Error(), zap.String("docID", doc.ID))
		} else {
			doc.StorageKey = newKey
		}
	}

	a.notifier.Notify(ctx, a.allPartyEmails(ctx, *doc), notification.Event{
		Kind:          notification.EventDocumentSigned,
		DocumentTitle: doc.Title,
	})
}

func (a App) anchorDocument(ctx context.Context, doc model.Document) (model.Anchor, error) {
	usernames := make([]string, len(doc.Participants))
	for i, p := range doc.Participants {
		usernames[i] = p.Username
	}

	anchorCtx, cancel := context.WithTimeout(ctx, a.anchorTimeout)
	defer cancel()

	return a.anchorer.Anchor(anchorCtx, blockchain.Metadata{
		DocID:        doc.ID,
		Hash:         doc.SHA256Hex,
		Title:        doc.Title,
		Owner:        doc.OwnerUsername,
		Participants: usernames,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// RejectDocument records a rejection. A single rejection is terminal for
// the whole document, no matter how many participants already signed.
func (a App) RejectDocument(ctx context.Context, docID string, rejecterID string, reason string) (model.Document, error) {
	doc, err := a.getPendingForDecision(ctx, docID, rejecterID)
	if err != nil {
		return model.Document{}, err
	}

	updated, err := a.db.RecordDecision(ctx, docID, rejecterID, model.DecisionRejected, reason, nil)
	if err != nil {
		return model.Document{}, a.mapDecisionConflict(ctx, err, docID, rejecterID)
	}

	won, err := a.db.MarkRejected(ctx, docID)
	if err != nil {
		return model.Document{}, err
	}
	updated.Status = model.DocStatusRejected
	if !won {
		return updated, nil
	}

	rejecter, _ := updated.ParticipantFor(rejecterID)
	a.logger.Info("document rejected",
		zap.String("docID", docID),
		zap.String("rejecter", rejecter.Username),
		zap.String("reason", reason))

	// rejected files are not retained
	if a.store != nil && doc.StorageKey != "" {
		if err := a.store.Delete(ctx, doc.StorageKey); err != nil {
			a.logger.Error("failed to delete the rejected document file: "+err.Error(), zap.String("docID", docID))
		}
	}

	a.notifier.Notify(ctx, a.allPartyEmails(ctx, updated), notification.Event{
		Kind:          notification.EventDocumentRejected,
		DocumentTitle: updated.Title,
		RejectedBy:    rejecter.Username,
		Reason:        reason,
	})

	return updated, nil
}

// getPendingForDecision runs the shared existence/pending/participant/
// already-decided checks for sign and reject.
func (a App) getPendingForDecision(ctx context.Context, docID string, userID string) (model.Document, error) {
	doc, err := a.db.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, mongodb.ErrNotFound) {
			return model.Document{}, ErrNotFound
		}
		return model.Document{}, err
	}

	if doc.Status != model.DocStatusPending {
		return model.Document{}, ErrNotPending
	}

	participant, ok := doc.ParticipantFor(userID)
	if !ok {
		return model.Document{}, ErrNotAParticipant
	}
	if participant.Decision != nil {
		return model.Document{}, ErrAlreadyDecided
	}

	return doc, nil
}

// mapDecisionConflict resolves a lost conditional-update race into the
// precise business error by re-reading the document.
func (a App) mapDecisionConflict(ctx context.Context, err error, docID string, userID string) error {
	if !errors.Is(err, mongodb.ErrNoPendingDecision) {
		return err
	}

	doc, readErr := a.db.GetDocument(ctx, docID)
	if readErr != nil {
		if errors.Is(readErr, mongodb.ErrNotFound) {
			return ErrNotFound
		}
		return readErr
	}
	if doc.Status != model.DocStatusPending {
		return ErrNotPending
	}
	if _, ok := doc.ParticipantFor(userID); !ok {
		return ErrNotAParticipant
	}
	return ErrAlreadyDecided
}

func (a App) allPartyEmails(ctx context.Context, doc model.Document) []string {
	emails := doc.ParticipantEmails()

	owner, err := a.users.GetUserByID(ctx, doc.OwnerID)
	if err != nil {
		a.logger.Warn("failed to resolve the owner for notification: "+err.Error(), zap.String("docID", doc.ID))
		return emails
	}
	if owner.Email == "" {
		return emails
	}
	for _, email := range emails {
		if email == owner.Email {
			return emails
		}
	}
	return append(emails, owner.Email)
}
