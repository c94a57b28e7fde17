package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind selects which half of a decoded batch a row belongs to. It is also the
// key under which rows are delivered to subscribers.
type Kind string

const (
	KindEvents  Kind = "events"
	KindActions Kind = "actions"
)

// Valid reports whether k is a known row kind.
func (k Kind) Valid() bool {
	return k == KindEvents || k == KindActions
}

// Status values carried by every row, derived from the receipt execution outcome.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// EventRow is one structured log entry emitted by a receipt execution outcome.
// Field names are the wire contract: subscriber filters match against them.
type EventRow struct {
	BlockHeight      uint64          `json:"blockHeight"`
	BlockHash        string          `json:"blockHash"`
	BlockTimestampMs float64         `json:"blockTimestampMs"`
	BlockTimestampNs string          `json:"blockTimestampNs"`
	ShardID          uint64          `json:"shardId"`
	TxHash           string          `json:"txHash"`
	ReceiptID        string          `json:"receiptId"`
	SignerID         string          `json:"signerId"`
	SignerPublicKey  string          `json:"signerPublicKey"`
	AccountID        string          `json:"accountId"`
	PredecessorID    string          `json:"predecessorId"`
	Status           string          `json:"status"`
	LogIndex         int             `json:"logIndex"`
	Event            json.RawMessage `json:"event"`
}

// ActionRow is one action entry within a receipt's action list, with the
// outcome-level gas and token figures duplicated onto every action of that
// outcome.
type ActionRow struct {
	BlockHeight      uint64          `json:"blockHeight"`
	BlockHash        string          `json:"blockHash"`
	BlockTimestampMs float64         `json:"blockTimestampMs"`
	BlockTimestampNs string          `json:"blockTimestampNs"`
	ShardID          uint64          `json:"shardId"`
	TxHash           string          `json:"txHash"`
	ReceiptID        string          `json:"receiptId"`
	SignerID         string          `json:"signerId"`
	SignerPublicKey  string          `json:"signerPublicKey"`
	AccountID        string          `json:"accountId"`
	PredecessorID    string          `json:"predecessorId"`
	Status           string          `json:"status"`
	GasBurnt         uint64          `json:"gasBurnt"`
	TokensBurnt      string          `json:"tokensBurnt"`
	GasPrice         string          `json:"gasPrice"`
	ActionIndex      int             `json:"actionIndex"`
	Action           json.RawMessage `json:"action"`
}

// Row is the generic form of an event or action row. Fields holds the row as
// decoded JSON so the filter engine can match it structurally without caring
// which variant produced it.
type Row struct {
	Kind   Kind
	Height uint64
	Fields map[string]any
}

// NewRow converts a typed row (EventRow or ActionRow) into its generic form.
func NewRow(kind Kind, height uint64, v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Row{}, fmt.Errorf("marshal row: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Row{}, fmt.Errorf("unmarshal row: %w", err)
	}
	return Row{Kind: kind, Height: height, Fields: fields}, nil
}

// MarshalJSON encodes the row as its field map.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// TimestampMs converts a nanosecond timestamp string from the block header
// into milliseconds. Malformed input yields zero.
func TimestampMs(nanosec string) float64 {
	v, err := strconv.ParseFloat(nanosec, 64)
	if err != nil {
		return 0
	}
	return v / 1e6
}
