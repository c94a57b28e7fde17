package decoder

import (
	"encoding/json"
	"testing"

	"eventRelay/internal/model"
	"eventRelay/internal/source"
)

const sampleBlock = `{
  "block": {
    "header": {
      "height": 100500,
      "hash": "BlockHash1",
      "timestamp_nanosec": "1700000000123456789"
    }
  },
  "shards": [
    {
      "shard_id": 0,
      "receipt_execution_outcomes": [
        {
          "tx_hash": "Tx1",
          "receipt": {
            "predecessor_id": "alice.near",
            "receiver_id": "nft.nearapps.near",
            "receipt_id": "Receipt1",
            "receipt": {
              "Action": {
                "signer_id": "alice.near",
                "signer_public_key": "ed25519:AliceKey",
                "gas_price": "100000000",
                "actions": [
                  {"FunctionCall": {"method_name": "nft_mint", "deposit": "1"}},
                  "CreateAccount"
                ]
              }
            }
          },
          "execution_outcome": {
            "outcome": {
              "status": {"SuccessValue": ""},
              "gas_burnt": 4174947687500,
              "tokens_burnt": "417494768750000000000",
              "logs": [
                "plain log line",
                "EVENT_JSON:{\"standard\":\"nep171\",\"event\":\"nft_mint\"}",
                "EVENT_JSON:not json at all"
              ]
            }
          }
        },
        {
          "tx_hash": "Tx2",
          "receipt": {
            "predecessor_id": "system",
            "receiver_id": "bob.near",
            "receipt_id": "Receipt2",
            "receipt": {
              "Data": {"data_id": "Data1"}
            }
          },
          "execution_outcome": {
            "outcome": {
              "status": {"SuccessValue": ""},
              "gas_burnt": 1,
              "tokens_burnt": "0",
              "logs": ["EVENT_JSON:{\"ignored\":true}"]
            }
          }
        }
      ]
    },
    {
      "shard_id": 1,
      "receipt_execution_outcomes": [
        {
          "tx_hash": "Tx3",
          "receipt": {
            "predecessor_id": "carol.near",
            "receiver_id": "app.near",
            "receipt_id": "Receipt3",
            "receipt": {
              "Action": {
                "signer_id": "carol.near",
                "signer_public_key": "ed25519:CarolKey",
                "gas_price": "100000000",
                "actions": [{"Transfer": {"deposit": "5"}}]
              }
            }
          },
          "execution_outcome": {
            "outcome": {
              "status": {"Failure": {"ActionError": {}}},
              "gas_burnt": 2,
              "tokens_burnt": "0",
              "logs": ["EVENT_JSON:{\"standard\":\"nep141\",\"event\":\"ft_transfer\"}"]
            }
          }
        }
      ]
    }
  ]
}`

func decodeSample(t *testing.T) (*source.RawBlock, []model.Row, []model.Row) {
	t.Helper()
	var block source.RawBlock
	if err := json.Unmarshal([]byte(sampleBlock), &block); err != nil {
		t.Fatalf("parse sample block: %v", err)
	}
	events, actions := New(nil).Decode(&block)
	return &block, events, actions
}

func TestDecodeEvents(t *testing.T) {
	_, events, _ := decodeSample(t)

	// Two marked logs on Receipt1 (one unparseable), one on Receipt3; the
	// Data-kind Receipt2 contributes nothing.
	if len(events) != 3 {
		t.Fatalf("want 3 event rows, got %d", len(events))
	}

	first := events[0].Fields
	if first["blockHeight"] != float64(100500) || first["blockHash"] != "BlockHash1" {
		t.Fatalf("unexpected block fields: %+v", first)
	}
	if first["blockTimestampNs"] != "1700000000123456789" {
		t.Fatalf("unexpected ns timestamp: %v", first["blockTimestampNs"])
	}
	if first["receiptId"] != "Receipt1" || first["accountId"] != "nft.nearapps.near" {
		t.Fatalf("unexpected receipt fields: %+v", first)
	}
	if first["status"] != model.StatusSuccess {
		t.Fatalf("want SUCCESS, got %v", first["status"])
	}
	// Log indices are source positions, including unmarked lines.
	if first["logIndex"] != float64(1) {
		t.Fatalf("want logIndex 1, got %v", first["logIndex"])
	}
	event, ok := first["event"].(map[string]any)
	if !ok || event["event"] != "nft_mint" {
		t.Fatalf("unexpected event payload: %v", first["event"])
	}

	// Unparseable payload keeps the row with a null event.
	second := events[1].Fields
	if second["logIndex"] != float64(2) {
		t.Fatalf("want logIndex 2, got %v", second["logIndex"])
	}
	if second["event"] != nil {
		t.Fatalf("want null event payload, got %v", second["event"])
	}

	third := events[2].Fields
	if third["shardId"] != float64(1) || third["status"] != model.StatusFailure {
		t.Fatalf("unexpected third event: %+v", third)
	}
}

func TestDecodeActions(t *testing.T) {
	_, _, actions := decodeSample(t)

	if len(actions) != 3 {
		t.Fatalf("want 3 action rows, got %d", len(actions))
	}

	first := actions[0].Fields
	if first["actionIndex"] != float64(0) || first["gasPrice"] != "100000000" {
		t.Fatalf("unexpected first action: %+v", first)
	}
	if first["gasBurnt"] != float64(4174947687500) || first["tokensBurnt"] != "417494768750000000000" {
		t.Fatalf("outcome figures missing: %+v", first)
	}

	// Plain-string action entries survive as-is.
	second := actions[1].Fields
	if second["actionIndex"] != float64(1) || second["action"] != "CreateAccount" {
		t.Fatalf("unexpected second action: %+v", second)
	}

	third := actions[2].Fields
	if third["status"] != model.StatusFailure || third["shardId"] != float64(1) {
		t.Fatalf("unexpected third action: %+v", third)
	}
}

func TestDecodeIdempotent(t *testing.T) {
	block, events1, actions1 := decodeSample(t)
	events2, actions2 := New(nil).Decode(block)

	a, _ := json.Marshal(events1)
	b, _ := json.Marshal(events2)
	if string(a) != string(b) {
		t.Fatalf("event rows differ across decodes")
	}

	a, _ = json.Marshal(actions1)
	b, _ = json.Marshal(actions2)
	if string(a) != string(b) {
		t.Fatalf("action rows differ across decodes")
	}
}

func TestDecodeDegenerate(t *testing.T) {
	if events, actions := New(nil).Decode(nil); events != nil || actions != nil {
		t.Fatalf("nil block should yield no rows")
	}

	var empty source.RawBlock
	if events, actions := New(nil).Decode(&empty); len(events) != 0 || len(actions) != 0 {
		t.Fatalf("empty block should yield no rows")
	}
}
