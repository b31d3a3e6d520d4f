package app_test

import (
	"blocksign/internal/blockchain"
	"blocksign/internal/model"
	"blocksign/internal/notification"
	"blocksign/internal/repository/mongodb"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeRepo mirrors the MongoDB repository's conditional-update contract:
// decisions are write-once and status transitions only ever leave PENDING.
type fakeRepo struct {
	mu   sync.Mutex
	docs map[string]model.Document
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: map[string]model.Document{}}
}

func copyDoc(doc model.Document) model.Document {
	out := doc
	out.Participants = append([]model.Participant(nil), doc.Participants...)
	out.Signatures = append([]model.Signature(nil), doc.Signatures...)
	if doc.Anchor != nil {
		anchor := *doc.Anchor
		out.Anchor = &anchor
	}
	return out
}

func (r *fakeRepo) InsertDocument(_ context.Context, doc model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.docs {
		if existing.SHA256Hex == doc.SHA256Hex {
			return mongodb.ErrDuplicateHash
		}
	}
	r.docs[doc.ID] = copyDoc(doc)
	return nil
}

func (r *fakeRepo) GetDocument(_ context.Context, docID string) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[docID]
	if !ok {
		return model.Document{}, mongodb.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (r *fakeRepo) RecordDecision(_ context.Context, docID string, userID string, decision model.Decision, reason string, sig *model.Signature) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[docID]
	if !ok || doc.Status != model.DocStatusPending {
		return model.Document{}, mongodb.ErrNoPendingDecision
	}

	doc = copyDoc(doc)
	matched := false
	for i, p := range doc.Participants {
		if p.UserID == userID && p.Decision == nil {
			now := time.Now().UTC()
			d := decision
			doc.Participants[i].Decision = &d
			doc.Participants[i].Reason = reason
			doc.Participants[i].DecidedAt = &now
			matched = true
			break
		}
	}
	if !matched {
		return model.Document{}, mongodb.ErrNoPendingDecision
	}

	if sig != nil {
		doc.Signatures = append(doc.Signatures, *sig)
	}
	doc.UpdatedAt = time.Now().UTC()
	r.docs[docID] = doc
	return copyDoc(doc), nil
}

func (r *fakeRepo) markStatus(docID string, to model.DocStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[docID]
	if !ok || doc.Status != model.DocStatusPending {
		return false, nil
	}
	doc.Status = to
	r.docs[docID] = doc
	return true, nil
}

func (r *fakeRepo) MarkSigned(_ context.Context, docID string) (bool, error) {
	return r.markStatus(docID, model.DocStatusSigned)
}

func (r *fakeRepo) MarkRejected(_ context.Context, docID string) (bool, error) {
	return r.markStatus(docID, model.DocStatusRejected)
}

func (r *fakeRepo) SetAnchor(_ context.Context, docID string, anchor model.Anchor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[docID]
	if !ok {
		return mongodb.ErrNotFound
	}
	if doc.Anchor != nil {
		return mongodb.ErrAnchorAlreadySet
	}
	doc.Anchor = &anchor
	r.docs[docID] = doc
	return nil
}

func (r *fakeRepo) SetStorageKey(_ context.Context, docID string, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[docID]
	if !ok {
		return mongodb.ErrNotFound
	}
	doc.StorageKey = key
	r.docs[docID] = doc
	return nil
}

func (r *fakeRepo) FindSignedByHash(_ context.Context, sha256Hex string) (model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, doc := range r.docs {
		if doc.SHA256Hex == sha256Hex && doc.Status == model.DocStatusSigned {
			return copyDoc(doc), nil
		}
	}
	return model.Document{}, mongodb.ErrNotFound
}

func (r *fakeRepo) GetUserDocuments(_ context.Context, userID string) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var docs []model.Document
	for _, doc := range r.docs {
		if doc.OwnerID == userID {
			docs = append(docs, copyDoc(doc))
			continue
		}
		if _, ok := doc.ParticipantFor(userID); ok {
			docs = append(docs, copyDoc(doc))
		}
	}
	return docs, nil
}

func (r *fakeRepo) CountAnchored(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, doc := range r.docs {
		if doc.Anchor != nil {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) ListAnchored(_ context.Context, limit int64) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var docs []model.Document
	for _, doc := range r.docs {
		if doc.Anchor != nil {
			docs = append(docs, copyDoc(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Anchor.AnchoredAt.After(docs[j].Anchor.AnchoredAt)
	})
	if int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (r *fakeRepo) AnchorStats(_ context.Context) (model.AnchorStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats model.AnchorStats
	for _, doc := range r.docs {
		stats.TotalDocuments++
		if doc.Status == model.DocStatusSigned {
			stats.TotalSigned++
			if doc.Anchor == nil {
				stats.PendingAnchoring++
			}
		}
		if doc.Anchor != nil {
			stats.TotalAnchored++
		}
	}
	return stats, nil
}

type fakeDirectory struct {
	users map[string]model.User // by id
}

func (d *fakeDirectory) GetUserByID(_ context.Context, userID string) (model.User, error) {
	user, ok := d.users[userID]
	if !ok {
		return model.User{}, mongodb.ErrNotFound
	}
	return user, nil
}

func (d *fakeDirectory) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	for _, user := range d.users {
		if strings.EqualFold(user.Username, username) {
			return user, nil
		}
	}
	return model.User{}, mongodb.ErrNotFound
}

func (d *fakeDirectory) ListUsersByUsernames(_ context.Context, usernames []string) ([]model.User, error) {
	var found []model.User
	for _, name := range usernames {
		if user, err := d.GetUserByUsername(context.Background(), name); err == nil {
			found = append(found, user)
		}
	}
	return found, nil
}

func (d *fakeDirectory) SetUserPublicKey(_ context.Context, username string, publicKeyHex string) error {
	for id, user := range d.users {
		if strings.EqualFold(user.Username, username) {
			user.PublicKeyHex = publicKeyHex
			d.users[id] = user
			return nil
		}
	}
	return mongodb.ErrNotFound
}

type fakeAnchorer struct {
	mu       sync.Mutex
	fail     bool
	anchored []blockchain.Metadata
}

func (f *fakeAnchorer) Anchor(_ context.Context, meta blockchain.Metadata) (model.Anchor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return model.Anchor{}, blockchain.ErrAnchorFailed
	}
	f.anchored = append(f.anchored, meta)
	return model.Anchor{
		TxID:        "0xfeedbeef",
		Network:     "polygon",
		ExplorerURL: "https://polygonscan.com/tx/0xfeedbeef",
		BlockNumber: 1234,
		AnchoredAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeAnchorer) VerifyTransaction(_ context.Context, txID string) (blockchain.Verification, error) {
	return blockchain.Verification{TxID: txID, Confirmed: true}, nil
}

func (f *fakeAnchorer) Address() string { return "0xc0ffee" }

func (f *fakeAnchorer) Network() string { return "polygon" }

func (f *fakeAnchorer) Balance(_ context.Context) (string, error) { return "1.000000", nil }

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) Relocate(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newKey := strings.Replace(key, "pending/", "signed/", 1)
	if data, ok := s.objects[key]; ok {
		s.objects[newKey] = data
		delete(s.objects, key)
	}
	return newKey, nil
}

func (s *fakeStore) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://store.local/" + key + "?signed", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *fakeNotifier) Notify(_ context.Context, recipients []string, event notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) kinds() []notification.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()

	kinds := make([]notification.EventKind, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}
