package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"eventRelay/internal/model"
)

// PGSource reads pre-decoded event rows from an indexer-maintained Postgres
// table, as an alternative to following blocks over HTTP.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(ctx context.Context, dsn string) (*PGSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PGSource{pool: pool}, nil
}

func (s *PGSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LastHeight returns the highest block height present in the events table, or
// zero when the table is empty.
func (s *PGSource) LastHeight(ctx context.Context) (uint64, error) {
	var height *int64
	err := s.pool.QueryRow(ctx, `SELECT MAX(block_height) FROM events`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("query max height: %w", err)
	}
	if height == nil {
		return 0, nil
	}
	return uint64(*height), nil
}

// EventsAfter returns up to limit event rows with a block height strictly
// greater than after, in table order, together with the highest height seen.
func (s *PGSource) EventsAfter(ctx context.Context, after uint64, limit int) ([]model.Row, uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT block_height, block_hash, block_timestamp, shard_id, tx_hash,
		       receipt_id, signer_id, signer_public_key, account_id,
		       predecessor_id, status, log_index, event
		FROM events
		WHERE block_height > $1
		ORDER BY block_height, shard_id, log_index
		LIMIT $2
	`, int64(after), limit)
	if err != nil {
		return nil, after, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Row
	maxHeight := after
	for rows.Next() {
		var (
			height, shardID, logIndex int64
			timestampNs               string
			row                       model.EventRow
			eventText                 *string
		)
		if err := rows.Scan(
			&height, &row.BlockHash, &timestampNs, &shardID, &row.TxHash,
			&row.ReceiptID, &row.SignerID, &row.SignerPublicKey, &row.AccountID,
			&row.PredecessorID, &row.Status, &logIndex, &eventText,
		); err != nil {
			return nil, maxHeight, fmt.Errorf("scan event: %w", err)
		}

		row.BlockHeight = uint64(height)
		row.BlockTimestampNs = timestampNs
		row.BlockTimestampMs = model.TimestampMs(timestampNs)
		row.ShardID = uint64(shardID)
		row.LogIndex = int(logIndex)
		if eventText != nil && json.Valid([]byte(*eventText)) {
			row.Event = json.RawMessage(*eventText)
		}

		generic, err := model.NewRow(model.KindEvents, row.BlockHeight, row)
		if err != nil {
			return nil, maxHeight, err
		}
		out = append(out, generic)
		if row.BlockHeight > maxHeight {
			maxHeight = row.BlockHeight
		}
	}
	if err := rows.Err(); err != nil {
		return nil, maxHeight, fmt.Errorf("iterate events: %w", err)
	}
	return out, maxHeight, nil
}
