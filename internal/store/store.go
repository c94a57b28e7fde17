package store

// Store is a key to JSON blob store used for the durable leftovers of the
// service: the ingestion cursor and the subscription sets.
type Store interface {
	// Put serializes v and writes it under key, replacing any prior value.
	Put(key string, v any) error
	// Get reads the value under key into out. The second return is false when
	// the key has never been written.
	Get(key string, out any) (bool, error)
}

// Well-known keys.
const (
	KeyLastBlock      = "last_block"
	KeyWebhookSubs    = "webhook_subs"
	KeyConnectionSubs = "connection_subs"
)
