package mongodb

import (
	"blocksign/internal/model"
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func (b Repository) InsertDocument(ctx context.Context, doc model.Document) error {
	_, err := b.documents().InsertOne(ctx, toStoredDocument(doc))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// lost the content-addressing race, same outcome as a prior read
			return ErrDuplicateHash
		}
		return errors.New("failed to insert the document: " + err.Error())
	}

	return nil
}

func (b Repository) GetDocument(ctx context.Context, docID string) (model.Document, error) {
	var stored storedDocument
	err := b.documents().FindOne(ctx, bson.M{"_id": docID}).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Document{}, ErrNotFound
		}
		return model.Document{}, errors.New("failed to get the document: " + err.Error())
	}

	return stored.toModel(), nil
}

// RecordDecision sets a participant's decision and, for a signing
// decision, appends the signature row — one conditional update, so the
// write-once rule holds under concurrent calls. Returns the document as
// it looks after the update.
func (b Repository) RecordDecision(ctx context.Context, docID string, userID string, decision model.Decision, reason string, sig *model.Signature) (model.Document, error) {
	now := time.Now().UTC()

	filter := bson.M{
		"_id":    docID,
		"status": model.DocStatusPending.String(),
		"participants": bson.M{"$elemMatch": bson.M{
			"userId":   userID,
			"decision": nil,
		}},
	}

	set := bson.M{
		"participants.$.decision":  string(decision),
		"participants.$.decidedAt": now,
		"updatedAt":                now,
	}
	if reason != "" {
		set["participants.$.reason"] = reason
	}
	update := bson.M{"$set": set}
	if sig != nil {
		update["$push"] = bson.M{"signatures": storedSignature(*sig)}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var stored storedDocument
	err := b.documents().FindOneAndUpdate(ctx, filter, update, opts).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// the document is gone, no longer pending, or the participant
			// decided already; the caller distinguishes by re-reading
			return model.Document{}, ErrNoPendingDecision
		}
		return model.Document{}, errors.New("failed to record the decision: " + err.Error())
	}

	return stored.toModel(), nil
}

// markStatus performs the guarded PENDING -> terminal transition. Exactly
// one of any number of concurrent callers observes won == true.
func (b Repository) markStatus(ctx context.Context, docID string, to model.DocStatus) (won bool, err error) {
	result, err := b.documents().UpdateOne(ctx,
		bson.M{"_id": docID, "status": model.DocStatusPending.String()},
		bson.M{"$set": bson.M{"status": to.String(), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, errors.New("failed to update the document status: " + err.Error())
	}

	return result.ModifiedCount == 1, nil
}

func (b Repository) MarkSigned(ctx context.Context, docID string) (bool, error) {
	return b.markStatus(ctx, docID, model.DocStatusSigned)
}

func (b Repository) MarkRejected(ctx context.Context, docID string) (bool, error) {
	return b.markStatus(ctx, docID, model.DocStatusRejected)
}

// SetAnchor attaches the anchor receipt, write-once.
func (b Repository) SetAnchor(ctx context.Context, docID string, anchor model.Anchor) error {
	stored := storedAnchor(anchor)
	result, err := b.documents().UpdateOne(ctx,
		bson.M{"_id": docID, "anchor": nil},
		bson.M{"$set": bson.M{"anchor": stored, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return errors.New("failed to set the anchor: " + err.Error())
	}
	if result.MatchedCount == 0 {
		return ErrAnchorAlreadySet
	}

	return nil
}

func (b Repository) SetStorageKey(ctx context.Context, docID string, key string) error {
	_, err := b.documents().UpdateOne(ctx,
		bson.M{"_id": docID},
		bson.M{"$set": bson.M{"storageKey": key, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return errors.New("failed to update the storage key: " + err.Error())
	}

	return nil
}

// FindSignedByHash looks up the attestation for a file hash. Only SIGNED
// documents count as proofs; pending and rejected ones never match.
func (b Repository) FindSignedByHash(ctx context.Context, sha256Hex string) (model.Document, error) {
	filter := bson.M{
		"sha256Hex": sha256Hex,
		"status":    model.DocStatusSigned.String(),
	}

	var stored storedDocument
	err := b.documents().FindOne(ctx, filter).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.Document{}, ErrNotFound
		}
		return model.Document{}, errors.New("failed to look up the hash: " + err.Error())
	}

	return stored.toModel(), nil
}

// GetUserDocuments returns the documents the user owns or participates
// in, newest first.
func (b Repository) GetUserDocuments(ctx context.Context, userID string) ([]model.Document, error) {
	filter := bson.M{"$or": []bson.M{
		{"ownerId": userID},
		{"participants.userId": userID},
	}}
	opts := options.Find().SetSort(bson.M{"createdAt": -1})

	cursor, err := b.documents().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.New("failed to find the user documents: " + err.Error())
	}

	var stored []storedDocument
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, errors.New("failed to read the documents from the cursor: " + err.Error())
	}

	docs := make([]model.Document, len(stored))
	for i, s := range stored {
		docs[i] = s.toModel()
	}

	b.logger.Debug("fetched user documents", zap.String("userID", userID), zap.Int("count", len(docs)))
	return docs, nil
}

// CountAnchored reports how many documents carry an anchor, for the
// wallet-info endpoint.
func (b Repository) CountAnchored(ctx context.Context) (int64, error) {
	count, err := b.documents().CountDocuments(ctx, bson.M{"anchor": bson.M{"$ne": nil}})
	if err != nil {
		return 0, errors.New("failed to count the anchored documents: " + err.Error())
	}
	return count, nil
}

// ListAnchored returns the documents carrying an anchor, most recent
// anchor first, capped at limit.
func (b Repository) ListAnchored(ctx context.Context, limit int64) ([]model.Document, error) {
	filter := bson.M{"anchor": bson.M{"$ne": nil}}
	opts := options.Find().SetSort(bson.M{"anchor.anchoredAt": -1}).SetLimit(limit)

	cursor, err := b.documents().Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.New("failed to find the anchored documents: " + err.Error())
	}

	var stored []storedDocument
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, errors.New("failed to read the documents from the cursor: " + err.Error())
	}

	docs := make([]model.Document, len(stored))
	for i, s := range stored {
		docs[i] = s.toModel()
	}
	return docs, nil
}

// AnchorStats gathers the document counters for the chain stats endpoint.
func (b Repository) AnchorStats(ctx context.Context) (model.AnchorStats, error) {
	count := func(filter bson.M) (int64, error) {
		n, err := b.documents().CountDocuments(ctx, filter)
		if err != nil {
			return 0, errors.New("failed to count the documents: " + err.Error())
		}
		return n, nil
	}

	var stats model.AnchorStats
	var err error

	if stats.TotalDocuments, err = count(bson.M{}); err != nil {
		return model.AnchorStats{}, err
	}
	if stats.TotalSigned, err = count(bson.M{"status": model.DocStatusSigned.String()}); err != nil {
		return model.AnchorStats{}, err
	}
	if stats.TotalAnchored, err = count(bson.M{"anchor": bson.M{"$ne": nil}}); err != nil {
		return model.AnchorStats{}, err
	}
	if stats.PendingAnchoring, err = count(bson.M{"status": model.DocStatusSigned.String(), "anchor": nil}); err != nil {
		return model.AnchorStats{}, err
	}

	return stats, nil
}
