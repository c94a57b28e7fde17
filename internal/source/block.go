package source

import "encoding/json"

// RawBlock is the wire shape of one block document as served by the block API.
// Only the parts the decoder consumes are typed; everything irregular stays
// raw JSON.
type RawBlock struct {
	Block  BlockBody `json:"block"`
	Shards []Shard   `json:"shards"`
}

type BlockBody struct {
	Header BlockHeader `json:"header"`
}

type BlockHeader struct {
	Height           uint64 `json:"height"`
	Hash             string `json:"hash"`
	TimestampNanosec string `json:"timestamp_nanosec"`
}

type Shard struct {
	ShardID                  uint64           `json:"shard_id"`
	ReceiptExecutionOutcomes []ReceiptOutcome `json:"receipt_execution_outcomes"`
}

// ReceiptOutcome pairs a receipt with its execution outcome.
type ReceiptOutcome struct {
	TxHash           string           `json:"tx_hash"`
	Receipt          Receipt          `json:"receipt"`
	ExecutionOutcome ExecutionOutcome `json:"execution_outcome"`
}

type Receipt struct {
	PredecessorID string         `json:"predecessor_id"`
	ReceiverID    string         `json:"receiver_id"`
	ReceiptID     string         `json:"receipt_id"`
	Receipt       ReceiptPayload `json:"receipt"`
}

// ReceiptPayload is the enum-like receipt body. Only Action-kind receipts
// produce rows; Data-kind receipts leave Action nil.
type ReceiptPayload struct {
	Action *ActionReceipt `json:"Action"`
}

type ActionReceipt struct {
	SignerID        string            `json:"signer_id"`
	SignerPublicKey string            `json:"signer_public_key"`
	GasPrice        string            `json:"gas_price"`
	Actions         []json.RawMessage `json:"actions"`
}

type ExecutionOutcome struct {
	Outcome OutcomeBody `json:"outcome"`
}

type OutcomeBody struct {
	Status      json.RawMessage `json:"status"`
	GasBurnt    uint64          `json:"gas_burnt"`
	TokensBurnt string          `json:"tokens_burnt"`
	Logs        []string        `json:"logs"`
}

// StatusSuccess reports whether the outcome status is a success variant
// (SuccessValue or SuccessReceiptId).
func (o OutcomeBody) StatusSuccess() bool {
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(o.Status, &variants); err != nil {
		return false
	}
	if _, ok := variants["SuccessValue"]; ok {
		return true
	}
	_, ok := variants["SuccessReceiptId"]
	return ok
}
