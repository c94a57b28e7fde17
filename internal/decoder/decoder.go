package decoder

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"eventRelay/internal/model"
	"eventRelay/internal/source"
)

// EventLogPrefix marks execution log lines that carry a structured event.
const EventLogPrefix = "EVENT_JSON:"

// Decoder turns raw block documents into flat event and action rows. It is a
// pure transform: malformed sub-structures yield no rows for that part,
// logged, never an error.
type Decoder struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Decode flattens one block into event rows and action rows, preserving
// shard, receipt, and log/action ordering from the source document.
func (d *Decoder) Decode(block *source.RawBlock) (events, actions []model.Row) {
	if block == nil {
		return nil, nil
	}

	header := block.Block.Header
	timestampMs := model.TimestampMs(header.TimestampNanosec)

	for _, shard := range block.Shards {
		for _, outcome := range shard.ReceiptExecutionOutcomes {
			action := outcome.Receipt.Receipt.Action
			if action == nil {
				continue
			}

			body := outcome.ExecutionOutcome.Outcome
			status := model.StatusFailure
			if body.StatusSuccess() {
				status = model.StatusSuccess
			}

			for logIndex, line := range body.Logs {
				if !strings.HasPrefix(line, EventLogPrefix) {
					continue
				}
				var payload json.RawMessage
				raw := []byte(strings.TrimPrefix(line, EventLogPrefix))
				if json.Valid(raw) {
					payload = raw
				} else {
					d.logger.Debug("unparseable event log",
						zap.Uint64("height", header.Height),
						zap.String("receipt", outcome.Receipt.ReceiptID),
						zap.Int("log_index", logIndex),
					)
				}

				row := model.EventRow{
					BlockHeight:      header.Height,
					BlockHash:        header.Hash,
					BlockTimestampMs: timestampMs,
					BlockTimestampNs: header.TimestampNanosec,
					ShardID:          shard.ShardID,
					TxHash:           outcome.TxHash,
					ReceiptID:        outcome.Receipt.ReceiptID,
					SignerID:         action.SignerID,
					SignerPublicKey:  action.SignerPublicKey,
					AccountID:        outcome.Receipt.ReceiverID,
					PredecessorID:    outcome.Receipt.PredecessorID,
					Status:           status,
					LogIndex:         logIndex,
					Event:            payload,
				}
				events = d.appendRow(events, model.KindEvents, header.Height, row)
			}

			for actionIndex, entry := range action.Actions {
				row := model.ActionRow{
					BlockHeight:      header.Height,
					BlockHash:        header.Hash,
					BlockTimestampMs: timestampMs,
					BlockTimestampNs: header.TimestampNanosec,
					ShardID:          shard.ShardID,
					TxHash:           outcome.TxHash,
					ReceiptID:        outcome.Receipt.ReceiptID,
					SignerID:         action.SignerID,
					SignerPublicKey:  action.SignerPublicKey,
					AccountID:        outcome.Receipt.ReceiverID,
					PredecessorID:    outcome.Receipt.PredecessorID,
					Status:           status,
					GasBurnt:         body.GasBurnt,
					TokensBurnt:      body.TokensBurnt,
					GasPrice:         action.GasPrice,
					ActionIndex:      actionIndex,
					Action:           entry,
				}
				actions = d.appendRow(actions, model.KindActions, header.Height, row)
			}
		}
	}
	return events, actions
}

func (d *Decoder) appendRow(rows []model.Row, kind model.Kind, height uint64, v any) []model.Row {
	row, err := model.NewRow(kind, height, v)
	if err != nil {
		d.logger.Warn("drop undecodable row", zap.Uint64("height", height), zap.Error(err))
		return rows
	}
	return append(rows, row)
}
