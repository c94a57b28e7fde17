package dispatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventRelay/internal/model"
	"eventRelay/internal/registry"
)

func mkRow(t *testing.T, kind model.Kind, fields map[string]any) model.Row {
	t.Helper()
	row, err := model.NewRow(kind, 1, fields)
	require.NoError(t, err)
	return row
}

func counters(reg *registry.Registry, secret string) registry.Counters {
	for _, sub := range reg.WebhookSnapshot() {
		if sub.Secret == secret {
			return sub.Counters
		}
	}
	return registry.Counters{}
}

func TestDispatchWebhookFiltered(t *testing.T) {
	bodies := make(chan []byte, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
	}))
	defer hook.Close()

	reg := registry.New(nil, nil)
	require.NoError(t, reg.CreateWebhook("s1", map[string]any{"status": "SUCCESS"}, hook.URL, model.KindEvents))

	d := New(reg, time.Second, nil)
	d.Dispatch([]model.Row{
		mkRow(t, model.KindEvents, map[string]any{"status": "SUCCESS", "accountId": "alice.near"}),
		mkRow(t, model.KindEvents, map[string]any{"status": "FAILURE", "accountId": "bob.near"}),
	})

	select {
	case body := <-bodies:
		var payload struct {
			Secret string           `json:"secret"`
			Events []map[string]any `json:"events"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "s1", payload.Secret)
		require.Len(t, payload.Events, 1)
		require.Equal(t, "alice.near", payload.Events[0]["accountId"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never called")
	}

	require.Eventually(t, func() bool {
		c := counters(reg, "s1")
		return c.Total == 1 && c.Success == 1 && c.Failure == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchNoMatchNoDelivery(t *testing.T) {
	called := make(chan struct{}, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called <- struct{}{}
	}))
	defer hook.Close()

	reg := registry.New(nil, nil)
	require.NoError(t, reg.CreateWebhook("s1", map[string]any{"status": "SUCCESS"}, hook.URL, model.KindEvents))

	d := New(reg, time.Second, nil)
	d.Dispatch([]model.Row{
		mkRow(t, model.KindEvents, map[string]any{"status": "FAILURE"}),
		// Kind mismatch: events-kind subscription never sees action rows.
		mkRow(t, model.KindActions, map[string]any{"status": "SUCCESS"}),
	})

	select {
	case <-called:
		t.Fatal("no delivery expected for an empty matching subset")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, registry.Counters{}, counters(reg, "s1"))
}

func TestDispatchIsolatesSlowSubscriber(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer fast.Close()

	reg := registry.New(nil, nil)
	require.NoError(t, reg.CreateWebhook("slow", map[string]any{}, slow.URL, model.KindEvents))
	require.NoError(t, reg.CreateWebhook("fast", map[string]any{}, fast.URL, model.KindEvents))

	d := New(reg, 100*time.Millisecond, nil)

	start := time.Now()
	d.Dispatch([]model.Row{mkRow(t, model.KindEvents, map[string]any{"status": "SUCCESS"})})
	require.Less(t, time.Since(start), 100*time.Millisecond,
		"dispatch must not wait on webhook responses")

	require.Eventually(t, func() bool {
		return counters(reg, "fast").Success == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		c := counters(reg, "slow")
		return c.Total == 1 && c.Failure == 1 && c.Success == 0
	}, 2*time.Second, 10*time.Millisecond, "timed-out delivery must count as failure")
}

func TestDispatchNon2xxIsFailure(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hook.Close()

	reg := registry.New(nil, nil)
	require.NoError(t, reg.CreateWebhook("s1", map[string]any{}, hook.URL, model.KindEvents))

	d := New(reg, time.Second, nil)
	d.Dispatch([]model.Row{mkRow(t, model.KindEvents, map[string]any{"status": "SUCCESS"})})

	require.Eventually(t, func() bool {
		c := counters(reg, "s1")
		return c.Total == 1 && c.Failure == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// capturingConn collects pushed payloads; failing toggles push errors.
type capturingConn struct {
	mu       sync.Mutex
	payloads []any
	failing  bool
}

func (c *capturingConn) PushJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("connection is closing")
	}
	c.payloads = append(c.payloads, v)
	return nil
}

func (c *capturingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestDispatchPush(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := &capturingConn{}
	reg.ConnSubscribe("c1", conn, "s2", map[string]any{"status": "SUCCESS"}, model.KindEvents, "origin")

	d := New(reg, time.Second, nil)
	d.Dispatch([]model.Row{
		mkRow(t, model.KindEvents, map[string]any{"status": "SUCCESS"}),
		mkRow(t, model.KindEvents, map[string]any{"status": "FAILURE"}),
	})

	require.Equal(t, 1, conn.count())
	payload := conn.payloads[0].(map[string]any)
	require.Equal(t, "s2", payload["secret"])
	require.Len(t, payload["events"], 1)
}

func TestDispatchPushFailureKeepsSubscription(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := &capturingConn{failing: true}
	reg.ConnSubscribe("c1", conn, "s2", map[string]any{}, model.KindEvents, "origin")

	d := New(reg, time.Second, nil)
	d.Dispatch([]model.Row{mkRow(t, model.KindEvents, map[string]any{"x": 1.0})})

	// Only the transport's close event removes a connection subscription.
	require.Len(t, reg.ConnSnapshot(), 1)

	conn.failing = false
	d.Dispatch([]model.Row{mkRow(t, model.KindEvents, map[string]any{"x": 2.0})})
	require.Equal(t, 1, conn.count())
}
