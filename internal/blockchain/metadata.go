package blockchain

import (
	"bytes"
	"encoding/json"
	"errors"
)

// payloadPrefix tags raw transaction payloads so anyone inspecting the
// chain can tell what wrote them without knowing this system.
const payloadPrefix = "BlockSign:"

// Metadata is the on-chain commitment record for a signed document.
type Metadata struct {
	DocID        string   `json:"docId"`
	Hash         string   `json:"hash"`
	Title        string   `json:"title"`
	Owner        string   `json:"owner"`
	Participants []string `json:"participants"`
	Timestamp    string   `json:"timestamp"`
}

// EncodeMetadata renders the prefixed JSON form stored in the transaction
// data field. The format is pinned: records already on chain decode with
// DecodeMetadata forever.
func EncodeMetadata(meta Metadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.New("failed to marshal the anchor metadata: " + err.Error())
	}

	return append([]byte(payloadPrefix), data...), nil
}

// DecodeMetadata parses a transaction data field back into the metadata
// record, stripping the prefix when present.
func DecodeMetadata(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, errors.New("transaction carries no data payload")
	}

	data = bytes.TrimPrefix(data, []byte(payloadPrefix))

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, errors.New("failed to decode the anchor metadata: " + err.Error())
	}

	return meta, nil
}
