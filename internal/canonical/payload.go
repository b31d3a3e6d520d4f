// Package canonical builds the payload every participant signs. The byte
// form is part of the cryptographic contract: once stored with a document
// it is never rebuilt, and any change to the schema needs a new version.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// PayloadVersion identifies the serialization schema below. Persisted with
// every document so historical signatures stay verifiable if the schema
// ever moves on.
const PayloadVersion = "cp-v1"

const maxTitleLength = 200

var ErrInvalidInput = errors.New("invalid canonical payload input")

type payload struct {
	SHA256Hex             string   `json:"sha256Hex"`
	DocTitle              string   `json:"docTitle"`
	ParticipantsUsernames []string `json:"participantsUsernames"`
}

// Build serializes (hash, title, participants) into the exact byte string
// all signers attest to. Participant order on input does not matter: the
// list is sorted case-insensitively, ties broken by byte order.
func Build(sha256Hex string, title string, participantUsernames []string) ([]byte, error) {
	sha256Hex = strings.ToLower(sha256Hex)

	if err := validate(sha256Hex, title, participantUsernames); err != nil {
		return nil, err
	}

	sorted := make([]string, len(participantUsernames))
	copy(sorted, participantUsernames)
	sort.Slice(sorted, func(i, j int) bool {
		li, lj := strings.ToLower(sorted[i]), strings.ToLower(sorted[j])
		if li != lj {
			return li < lj
		}
		return sorted[i] < sorted[j]
	})

	// encoding/json escapes <, > and & by default; the pinned format does not
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload{
		SHA256Hex:             sha256Hex,
		DocTitle:              title,
		ParticipantsUsernames: sorted,
	}); err != nil {
		return nil, errors.New("failed to serialize the canonical payload: " + err.Error())
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func validate(sha256Hex string, title string, participantUsernames []string) error {
	var err error

	if len(sha256Hex) != 64 || !isLowerHex(sha256Hex) {
		err = multierr.Append(err, errors.New("sha256Hex must be 64 lowercase hex characters"))
	}
	if len(title) == 0 || len(title) > maxTitleLength {
		err = multierr.Append(err, fmt.Errorf("title length must be between 1 and %d", maxTitleLength))
	}
	if len(participantUsernames) == 0 {
		err = multierr.Append(err, errors.New("at least one participant is required"))
	}
	for _, username := range participantUsernames {
		if len(username) < 3 {
			err = multierr.Append(err, errors.New("participant username too short: "+username))
		}
	}

	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}
	return nil
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
