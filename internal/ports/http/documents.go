package http

import (
	"blocksign/internal/app"
	"blocksign/internal/model"
	"blocksign/internal/ports/http/middleware/auth"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// max upload size is 50MB
const maxUploadBytes = 50 << 20

type retrievedParticipant struct {
	Username  string     `json:"username"`
	Decision  string     `json:"decision,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

type retrievedAnchor struct {
	TxID        string    `json:"txId"`
	Network     string    `json:"network"`
	ExplorerURL string    `json:"explorerUrl"`
	BlockNumber uint64    `json:"blockNumber"`
	AnchoredAt  time.Time `json:"anchoredAt"`
}

type retrievedDocument struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	SHA256Hex    string                 `json:"sha256Hex"`
	Status       string                 `json:"status"`
	Owner        string                 `json:"owner"`
	Participants []retrievedParticipant `json:"participants"`
	SignedCount  int                    `json:"signedCount"`
	Required     int                    `json:"requiredCount"`
	Anchor       *retrievedAnchor       `json:"anchor,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

func (ret *retrievedDocument) assign(doc model.Document) {
	ret.ID = doc.ID
	ret.Title = doc.Title
	ret.SHA256Hex = doc.SHA256Hex
	ret.Status = string(doc.Status)
	ret.Owner = doc.OwnerUsername
	ret.SignedCount = doc.SignedCount()
	ret.Required = doc.RequiredSignatureCount()
	ret.CreatedAt = doc.CreatedAt

	ret.Participants = make([]retrievedParticipant, len(doc.Participants))
	for i, p := range doc.Participants {
		ret.Participants[i] = retrievedParticipant{
			Username:  p.Username,
			Reason:    p.Reason,
			DecidedAt: p.DecidedAt,
		}
		if p.Decision != nil {
			ret.Participants[i].Decision = string(*p.Decision)
		}
	}

	if doc.Anchor != nil {
		ret.Anchor = &retrievedAnchor{
			TxID:        doc.Anchor.TxID,
			Network:     doc.Anchor.Network,
			ExplorerURL: doc.Anchor.ExplorerURL,
			BlockNumber: doc.Anchor.BlockNumber,
			AnchoredAt:  doc.Anchor.AnchoredAt,
		}
	}
}

// uploadError tells an oversized body apart from ordinary form issues.
func (ser server) uploadError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		ser.respondError(w, http.StatusRequestEntityTooLarge, "the uploaded file exceeds the size limit")
		return
	}
	ser.badRequest(w, err.Error())
}

func (ser server) postDocument(w http.ResponseWriter, r *http.Request) {

	req, err := ser.readCreateDocumentParams(w, r)
	if err != nil {
		ser.uploadError(w, err)
		return
	}

	doc, err := ser.app.CreateDocument(r.Context(), req)
	if err != nil {
		ser.appError(w, err)
		return
	}

	var ret retrievedDocument
	ret.assign(doc)
	ser.respondJSON(w, http.StatusCreated, ret)
}

func (ser server) readCreateDocumentParams(w http.ResponseWriter, r *http.Request) (app.CreateDocumentRequest, error) {
	// ParseMultipartForm alone only bounds the in-memory part of the form,
	// the reader is what refuses bodies over the cap
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return app.CreateDocumentRequest{}, fmt.Errorf("failed to parse the form: %w", err)
	}

	var err error

	title := normalize(r.FormValue("docTitle"))
	if title == "" {
		err = multierr.Append(err, errors.New("docTitle is missing"))
	}

	declaredHash := normalize(r.FormValue("sha256Hex"))
	if declaredHash == "" {
		err = multierr.Append(err, errors.New("sha256Hex is missing"))
	}

	creatorSig := normalize(r.FormValue("creatorSignatureB64"))
	if creatorSig == "" {
		err = multierr.Append(err, errors.New("creatorSignatureB64 is missing"))
	}

	var participants []string
	if raw := r.FormValue("participantsUsernames"); raw == "" {
		err = multierr.Append(err, errors.New("participantsUsernames is missing"))
	} else if jsonErr := json.Unmarshal([]byte(raw), &participants); jsonErr != nil {
		err = multierr.Append(err, errors.New("participantsUsernames is not a valid JSON array: "+jsonErr.Error()))
	}

	file, handler, fileErr := r.FormFile("file")
	if fileErr != nil {
		err = multierr.Append(err, errors.New("failed to get the document file from form: "+fileErr.Error()))
		return app.CreateDocumentRequest{}, err
	}
	defer file.Close()

	if err != nil {
		return app.CreateDocumentRequest{}, err
	}

	mimeType := handler.Header.Get("Content-Type")
	if mimeType != "application/pdf" {
		return app.CreateDocumentRequest{}, errors.New("only application/pdf files are accepted, got: " + mimeType)
	}

	bytes, err := io.ReadAll(file)
	if err != nil {
		return app.CreateDocumentRequest{}, errors.New("failed to read the document file: " + err.Error())
	}

	if len(bytes) != int(handler.Size) {
		return app.CreateDocumentRequest{}, fmt.Errorf("upload error: size of received file: %v, size declared in the header: %v", len(bytes), handler.Size)
	}

	ser.logger.Info(fmt.Sprintf("received file: %s, size %v", handler.Filename, handler.Size))

	return app.CreateDocumentRequest{
		OwnerID:              auth.UserID(r.Context()),
		FileBytes:            bytes,
		DeclaredSHA256Hex:    declaredHash,
		Title:                title,
		ParticipantUsernames: participants,
		CreatorSignatureB64:  creatorSig,
		MimeType:             mimeType,
	}, nil
}

func (ser server) getDocumentURL(w http.ResponseWriter, r *http.Request) {
	docID := normalize(mux.Vars(r)["documentID"])

	url, err := ser.app.DocumentURL(r.Context(), docID, auth.UserID(r.Context()))
	if err != nil {
		ser.appError(w, err)
		return
	}

	ser.respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

type signRequest struct {
	SignatureB64 string `json:"signatureB64"`
}

func (ser server) signDocument(w http.ResponseWriter, r *http.Request) {
	docID := normalize(mux.Vars(r)["documentID"])

	var body signRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ser.badRequest(w, "failed to decode the request body: "+err.Error())
		return
	}
	if normalize(body.SignatureB64) == "" {
		ser.badRequest(w, "signatureB64 is missing")
		return
	}

	doc, err := ser.app.SignDocument(r.Context(), docID, auth.UserID(r.Context()), body.SignatureB64)
	if err != nil {
		ser.appError(w, err)
		return
	}

	var ret retrievedDocument
	ret.assign(doc)
	ser.respondJSON(w, http.StatusOK, ret)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (ser server) rejectDocument(w http.ResponseWriter, r *http.Request) {
	docID := normalize(mux.Vars(r)["documentID"])

	var body rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ser.badRequest(w, "failed to decode the request body: "+err.Error())
		return
	}

	doc, err := ser.app.RejectDocument(r.Context(), docID, auth.UserID(r.Context()), normalize(body.Reason))
	if err != nil {
		ser.appError(w, err)
		return
	}

	var ret retrievedDocument
	ret.assign(doc)
	ser.respondJSON(w, http.StatusOK, ret)
}

type verifyResponse struct {
	Match     bool               `json:"match"`
	SHA256Hex string             `json:"sha256Hex"`
	Document  *retrievedDocument `json:"document,omitempty"`
}

func (ser server) verifyDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		ser.uploadError(w, fmt.Errorf("failed to parse the form: %w", err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		ser.badRequest(w, "failed to get the file from form: "+err.Error())
		return
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		ser.serverError(w, "failed to read the file: "+err.Error())
		return
	}

	result, err := ser.app.VerifyByHash(r.Context(), bytes)
	if err != nil {
		ser.appError(w, err)
		return
	}

	ser.logger.Info("verification lookup",
		zap.String("sha256Hex", result.SHA256Hex),
		zap.Bool("match", result.Match))

	response := verifyResponse{Match: result.Match, SHA256Hex: result.SHA256Hex}
	if result.Document != nil {
		response.Document = &retrievedDocument{}
		response.Document.assign(*result.Document)
	}

	ser.respondJSON(w, http.StatusOK, response)
}
