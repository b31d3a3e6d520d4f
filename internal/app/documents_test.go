package app_test

import (
	"blocksign/internal/app"
	"blocksign/internal/canonical"
	"blocksign/internal/hashing"
	"blocksign/internal/model"
	"blocksign/internal/notification"
	"blocksign/internal/signature"
	"blocksign/internal/signkeys"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	app      app.App
	repo     *fakeRepo
	dir      *fakeDirectory
	anchorer *fakeAnchorer
	store    *fakeStore
	notifier *fakeNotifier
	keys     map[string]signkeys.UserKeys // by username
}

func newFixture(t *testing.T, usernames ...string) *fixture {
	t.Helper()

	f := &fixture{
		repo:     newFakeRepo(),
		dir:      &fakeDirectory{users: map[string]model.User{}},
		anchorer: &fakeAnchorer{},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		keys:     map[string]signkeys.UserKeys{},
	}

	for _, username := range usernames {
		keys, err := signkeys.GenerateKeys()
		require.NoError(t, err)
		f.keys[username] = keys
		f.dir.users["id-"+username] = model.User{
			ID:           "id-" + username,
			Username:     username,
			Email:        username + "@example.com",
			PublicKeyHex: keys.PublicKeyHex(),
		}
	}

	f.app = app.NewApp(zap.NewNop(), f.repo, f.dir, f.anchorer, f.store, f.notifier, app.Options{})
	return f
}

func (f *fixture) signPayload(t *testing.T, username string, payload []byte) string {
	t.Helper()
	sig, err := signature.Sign(f.keys[username].PrivateSeed, payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

// createDoc runs the create flow for a file, with the owner included in
// the participant list as the reference clients do.
func (f *fixture) createDoc(t *testing.T, owner string, file []byte, title string, participants []string) model.Document {
	t.Helper()

	hash := hashing.CalculateSHA256(file)
	payload, err := canonical.Build(hash, title, participants)
	require.NoError(t, err)

	doc, err := f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-" + owner,
		FileBytes:            file,
		DeclaredSHA256Hex:    hash,
		Title:                title,
		ParticipantUsernames: participants,
		CreatorSignatureB64:  f.signPayload(t, owner, payload),
		MimeType:             "application/pdf",
	})
	require.NoError(t, err)
	return doc
}

func TestCreateDocument(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	file := []byte("%PDF-1.7 test")

	doc := f.createDoc(t, "alexdandy", file, "TestDoc", []string{"alexdandy", "alexeydandy"})

	assert.Equal(t, model.DocStatusPending, doc.Status)
	assert.Equal(t, canonical.PayloadVersion, doc.PayloadVersion)
	assert.Equal(t, 2, doc.RequiredSignatureCount())
	assert.Equal(t, 1, doc.SignedCount())
	assert.Equal(t, "pending/"+doc.ID+".pdf", doc.StorageKey)

	// the owner-participant's decision is already recorded
	p, ok := doc.ParticipantFor("id-alexdandy")
	require.True(t, ok)
	require.NotNil(t, p.Decision)
	assert.Equal(t, model.DecisionSigned, *p.Decision)

	other, ok := doc.ParticipantFor("id-alexeydandy")
	require.True(t, ok)
	assert.Nil(t, other.Decision)

	assert.Equal(t, []notification.EventKind{notification.EventSignatureRequested}, f.notifier.kinds())
	assert.Contains(t, f.store.objects, doc.StorageKey)
}

func TestCreateDocumentHashMismatch(t *testing.T) {
	f := newFixture(t, "alexdandy")

	_, err := f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-alexdandy",
		FileBytes:            []byte("actual content"),
		DeclaredSHA256Hex:    hashing.CalculateSHA256([]byte("other content")),
		Title:                "TestDoc",
		ParticipantUsernames: []string{"alexdandy"},
		CreatorSignatureB64:  "irrelevant",
	})
	assert.ErrorIs(t, err, app.ErrHashMismatch)
}

func TestCreateDocumentDuplicateHash(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	file := []byte("the very same file")

	f.createDoc(t, "alexdandy", file, "First", []string{"alexdandy", "alexeydandy"})

	hash := hashing.CalculateSHA256(file)
	payload, err := canonical.Build(hash, "Second", []string{"alexeydandy"})
	require.NoError(t, err)

	_, err = f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-alexeydandy",
		FileBytes:            file,
		DeclaredSHA256Hex:    hash,
		Title:                "Second",
		ParticipantUsernames: []string{"alexeydandy"},
		CreatorSignatureB64:  f.signPayload(t, "alexeydandy", payload),
	})
	assert.ErrorIs(t, err, app.ErrDuplicateDocument)
}

func TestCreateDocumentDeduplicatesParticipants(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	file := []byte("file")
	hash := hashing.CalculateSHA256(file)

	// the canonical payload carries each participant once
	payload, err := canonical.Build(hash, "TestDoc", []string{"alexdandy", "alexeydandy"})
	require.NoError(t, err)

	doc, err := f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-alexdandy",
		FileBytes:            file,
		DeclaredSHA256Hex:    hash,
		Title:                "TestDoc",
		ParticipantUsernames: []string{"alexdandy", "ALEXDANDY", "alexeydandy", "alexeydandy"},
		CreatorSignatureB64:  f.signPayload(t, "alexdandy", payload),
	})
	require.NoError(t, err)

	assert.Len(t, doc.Participants, 2)
	assert.Equal(t, 2, doc.RequiredSignatureCount())
	assert.Equal(t, payload, doc.CanonicalPayload)
}

func TestCreateDocumentUnknownParticipants(t *testing.T) {
	f := newFixture(t, "alexdandy")
	file := []byte("file")
	hash := hashing.CalculateSHA256(file)

	_, err := f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-alexdandy",
		FileBytes:            file,
		DeclaredSHA256Hex:    hash,
		Title:                "TestDoc",
		ParticipantUsernames: []string{"alexdandy", "ghost", "phantom"},
		CreatorSignatureB64:  "irrelevant",
	})

	var unknown app.UnknownParticipantsError
	require.ErrorAs(t, err, &unknown)
	assert.ElementsMatch(t, []string{"ghost", "phantom"}, unknown.Usernames)
}

func TestCreateDocumentMissingSigningKey(t *testing.T) {
	f := newFixture(t, "alexdandy")
	f.dir.users["id-nokey"] = model.User{ID: "id-nokey", Username: "nokeyuser", Email: "nokey@example.com"}

	file := []byte("file")
	_, err := f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-nokey",
		FileBytes:            file,
		DeclaredSHA256Hex:    hashing.CalculateSHA256(file),
		Title:                "TestDoc",
		ParticipantUsernames: []string{"alexdandy"},
		CreatorSignatureB64:  "irrelevant",
	})
	assert.ErrorIs(t, err, app.ErrMissingSigningKey)
}

func TestCreateDocumentInvalidSignature(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	file := []byte("file")
	hash := hashing.CalculateSHA256(file)

	// signed over different bytes than the canonical payload
	_, err := f.app.CreateDocument(context.Background(), app.CreateDocumentRequest{
		OwnerID:              "id-alexdandy",
		FileBytes:            file,
		DeclaredSHA256Hex:    hash,
		Title:                "TestDoc",
		ParticipantUsernames: []string{"alexdandy", "alexeydandy"},
		CreatorSignatureB64:  f.signPayload(t, "alexdandy", []byte("wrong bytes")),
	})
	assert.ErrorIs(t, err, app.ErrInvalidSignature)
}

func TestSignDocumentReachesThreshold(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy", "charlie")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc",
		[]string{"alexdandy", "alexeydandy", "charlie"})

	// first participant signs, threshold (3) not reached yet
	updated, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)
	assert.Equal(t, model.DocStatusPending, updated.Status)
	assert.Empty(t, f.anchorer.anchored)

	// second participant completes it
	updated, err = f.app.SignDocument(context.Background(), doc.ID, "id-charlie",
		f.signPayload(t, "charlie", doc.CanonicalPayload))
	require.NoError(t, err)
	assert.Equal(t, model.DocStatusSigned, updated.Status)

	require.NotNil(t, updated.Anchor)
	assert.Equal(t, "0xfeedbeef", updated.Anchor.TxID)
	require.Len(t, f.anchorer.anchored, 1)
	assert.Equal(t, doc.SHA256Hex, f.anchorer.anchored[0].Hash)
	assert.ElementsMatch(t, []string{"alexdandy", "alexeydandy", "charlie"}, f.anchorer.anchored[0].Participants)

	// file moved to the signed area
	assert.Equal(t, "signed/"+doc.ID+".pdf", updated.StorageKey)
	assert.Contains(t, f.store.objects, updated.StorageKey)

	assert.Equal(t, []notification.EventKind{
		notification.EventSignatureRequested,
		notification.EventDocumentSigned,
	}, f.notifier.kinds())
}

func TestSignDocumentInvalidSignature(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	_, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", []byte("not the stored payload")))
	assert.ErrorIs(t, err, app.ErrInvalidSignature)

	// no decision recorded, signing again with the right payload works
	updated, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)
	assert.Equal(t, model.DocStatusSigned, updated.Status)
}

func TestSignDocumentChecks(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy", "charlie")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	_, err := f.app.SignDocument(context.Background(), "no-such-doc", "id-alexeydandy", "sig")
	assert.ErrorIs(t, err, app.ErrNotFound)

	_, err = f.app.SignDocument(context.Background(), doc.ID, "id-charlie", "sig")
	assert.ErrorIs(t, err, app.ErrNotAParticipant)

	// complete the document, then any further decision is NotPending
	_, err = f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)

	_, err = f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy", "sig")
	assert.ErrorIs(t, err, app.ErrNotPending)
}

func TestDecisionIsWriteOnce(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy", "charlie")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc",
		[]string{"alexdandy", "alexeydandy", "charlie"})

	_, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)

	before, err := f.repo.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)

	// the same participant cannot sign or reject again
	_, err = f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	assert.ErrorIs(t, err, app.ErrAlreadyDecided)

	_, err = f.app.RejectDocument(context.Background(), doc.ID, "id-alexeydandy", "changed my mind")
	assert.ErrorIs(t, err, app.ErrAlreadyDecided)

	after, err := f.repo.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRejectionIsTerminal(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy", "charlie")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc",
		[]string{"alexdandy", "alexeydandy", "charlie"})

	// one participant already signed; a single rejection still kills it
	_, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)

	rejected, err := f.app.RejectDocument(context.Background(), doc.ID, "id-charlie", "terms unacceptable")
	require.NoError(t, err)
	assert.Equal(t, model.DocStatusRejected, rejected.Status)

	p, ok := rejected.ParticipantFor("id-charlie")
	require.True(t, ok)
	require.NotNil(t, p.Decision)
	assert.Equal(t, model.DecisionRejected, *p.Decision)
	assert.Equal(t, "terms unacceptable", p.Reason)

	// the file is not retained and everyone is told why
	assert.Contains(t, f.store.deleted, doc.StorageKey)
	kinds := f.notifier.kinds()
	assert.Equal(t, notification.EventDocumentRejected, kinds[len(kinds)-1])

	// no resurrection from a terminal state
	_, err = f.app.SignDocument(context.Background(), doc.ID, "id-charlie", "sig")
	assert.ErrorIs(t, err, app.ErrNotPending)
	assert.Empty(t, f.anchorer.anchored)
}

func TestAnchorFailureDoesNotRevertSigned(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	f.anchorer.fail = true

	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	updated, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)
	assert.Equal(t, model.DocStatusSigned, updated.Status)
	assert.Nil(t, updated.Anchor)

	// the provider recovers and a manual retry attaches the anchor
	f.anchorer.fail = false
	anchor, err := f.app.RetryAnchor(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xfeedbeef", anchor.TxID)

	stored, err := f.repo.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Anchor)
	assert.Equal(t, model.DocStatusSigned, stored.Status)

	// a second retry is refused
	_, err = f.app.RetryAnchor(context.Background(), doc.ID)
	assert.ErrorIs(t, err, app.ErrAlreadyAnchored)
}

func TestRetryAnchorRequiresSigned(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	_, err := f.app.RetryAnchor(context.Background(), doc.ID)
	assert.ErrorIs(t, err, app.ErrNotSigned)

	_, err = f.app.RetryAnchor(context.Background(), "no-such-doc")
	assert.ErrorIs(t, err, app.ErrNotFound)
}

func TestVerifyByHash(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	file := []byte("the signed file")
	doc := f.createDoc(t, "alexdandy", file, "TestDoc", []string{"alexdandy", "alexeydandy"})

	// a pending document is not a valid proof
	result, err := f.app.VerifyByHash(context.Background(), file)
	require.NoError(t, err)
	assert.False(t, result.Match)
	assert.Equal(t, doc.SHA256Hex, result.SHA256Hex)

	_, err = f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)

	result, err = f.app.VerifyByHash(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, result.Match)
	require.NotNil(t, result.Document)
	assert.Equal(t, doc.ID, result.Document.ID)

	result, err = f.app.VerifyByHash(context.Background(), []byte("never seen"))
	require.NoError(t, err)
	assert.False(t, result.Match)
}

func TestDocumentURLAccess(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy", "charlie")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	url, err := f.app.DocumentURL(context.Background(), doc.ID, "id-alexeydandy")
	require.NoError(t, err)
	assert.Contains(t, url, doc.StorageKey)

	_, err = f.app.DocumentURL(context.Background(), doc.ID, "id-charlie")
	assert.ErrorIs(t, err, app.ErrForbidden)
}

func TestRegisterUserKey(t *testing.T) {
	f := newFixture(t, "alexdandy")
	f.dir.users["id-newbie"] = model.User{ID: "id-newbie", Username: "newbie"}

	keys, err := signkeys.GenerateKeys()
	require.NoError(t, err)

	require.NoError(t, f.app.RegisterUserKey(context.Background(), "newbie", keys.PublicKeyHex()))
	user, err := f.dir.GetUserByUsername(context.Background(), "newbie")
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKeyHex(), user.PublicKeyHex)

	err = f.app.RegisterUserKey(context.Background(), "newbie", "zz-not-a-key")
	assert.ErrorIs(t, err, signature.ErrMalformedCredential)

	err = f.app.RegisterUserKey(context.Background(), "missing", keys.PublicKeyHex())
	assert.ErrorIs(t, err, app.ErrNotFound)
}

func TestGetWalletInfo(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	_, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)

	info, err := f.app.GetWalletInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xc0ffee", info.Address)
	assert.Equal(t, "polygon", info.Network)
	assert.Equal(t, int64(1), info.TotalAnchored)
}

func TestChainStatsAndAnchoredListing(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy", "charlie")

	// one document anchors, a second one signs while the provider is down
	anchored := f.createDoc(t, "alexdandy", []byte("file one"), "First", []string{"alexdandy", "alexeydandy"})
	_, err := f.app.SignDocument(context.Background(), anchored.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", anchored.CanonicalPayload))
	require.NoError(t, err)

	f.anchorer.fail = true
	unanchored := f.createDoc(t, "alexeydandy", []byte("file two"), "Second", []string{"alexeydandy", "charlie"})
	_, err = f.app.SignDocument(context.Background(), unanchored.ID, "id-charlie",
		f.signPayload(t, "charlie", unanchored.CanonicalPayload))
	require.NoError(t, err)

	f.createDoc(t, "alexdandy", []byte("file three"), "Third", []string{"alexdandy", "charlie"})

	stats, err := f.app.GetChainStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalDocuments)
	assert.Equal(t, int64(2), stats.TotalSigned)
	assert.Equal(t, int64(1), stats.TotalAnchored)
	assert.Equal(t, int64(1), stats.PendingAnchoring)
	assert.Equal(t, 0.5, stats.AnchorSuccessRate)

	docs, err := f.app.ListAnchoredDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, anchored.ID, docs[0].ID)
	require.NotNil(t, docs[0].Anchor)
}

func TestChainStatsEmpty(t *testing.T) {
	f := newFixture(t, "alexdandy")

	stats, err := f.app.GetChainStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDocuments)
	assert.Zero(t, stats.AnchorSuccessRate)
}

func TestAnchoringDisabled(t *testing.T) {
	f := newFixture(t, "alexdandy", "alexeydandy")
	// rebuild the app without an anchoring backend
	f.app = app.NewApp(zap.NewNop(), f.repo, f.dir, nil, f.store, f.notifier, app.Options{})

	doc := f.createDoc(t, "alexdandy", []byte("file"), "TestDoc", []string{"alexdandy", "alexeydandy"})

	updated, err := f.app.SignDocument(context.Background(), doc.ID, "id-alexeydandy",
		f.signPayload(t, "alexeydandy", doc.CanonicalPayload))
	require.NoError(t, err)
	assert.Equal(t, model.DocStatusSigned, updated.Status)
	assert.Nil(t, updated.Anchor)

	_, err = f.app.RetryAnchor(context.Background(), doc.ID)
	assert.ErrorIs(t, err, app.ErrAnchoringDisabled)

	_, err = f.app.GetWalletInfo(context.Background())
	assert.ErrorIs(t, err, app.ErrAnchoringDisabled)
}
