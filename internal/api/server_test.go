package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaywire/smsgate/internal/broker"
	"github.com/relaywire/smsgate/internal/device"
	"github.com/relaywire/smsgate/internal/gateway"
	"github.com/relaywire/smsgate/internal/history"
	"github.com/relaywire/smsgate/internal/infrastructure/config"
	"github.com/relaywire/smsgate/internal/infrastructure/logging"
)

// memoryHistory is an in-memory history.Repository for tests.
type memoryHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memoryHistory) Record(_ context.Context, entry history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryHistory) List(_ context.Context, identifier string, limit int) ([]history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []history.Entry{}
	for _, e := range m.entries {
		if identifier == "" || e.Identifier == identifier {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryHistory) Prune(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

// testEnv bundles the wired relay components behind an httptest server.
type testEnv struct {
	store   *device.Store
	gateway *gateway.Gateway
	broker  *broker.Broker
	history *memoryHistory
	srv     *httptest.Server
}

func newTestEnv(t *testing.T, replyTimeout time.Duration) *testEnv {
	t.Helper()

	store := device.NewStore()

	gwCfg := config.GatewayConfig{
		MaxMessageSize:        8192,
		SendBufferSize:        16,
		LivenessCheckInterval: 1,
		LivenessWindow:        30,
	}
	gw := gateway.New(gwCfg, store)

	br := broker.New(store, gw, replyTimeout)
	gw.SetReplySink(br)

	hist := &memoryHistory{}

	server, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:  logging.Default(),
		Store:   store,
		Gateway: gw,
		Broker:  br,
		History: hist,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	srv := httptest.NewServer(server.buildRouter())
	t.Cleanup(srv.Close)
	t.Cleanup(gw.CloseAll)

	return &testEnv{store: store, gateway: gw, broker: br, history: hist, srv: srv}
}

func (env *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(env.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (env *testEnv) delete(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

// connectDevice registers a key, dials the gateway, and returns the socket
// plus the device identifier. The connected event is consumed.
func connectDevice(t *testing.T, env *testEnv, key string) (*websocket.Conn, string) {
	t.Helper()

	d, err := env.store.Create(key, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?identifier=" + d.Identifier
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	// connected event
	if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("reading connected event: %v", err)
	}

	return ws, d.Identifier
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, time.Second)

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateDevice(t *testing.T) {
	env := newTestEnv(t, time.Second)

	t.Run("creates key", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices", map[string]string{"key": "secret-1"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["id"] == "" || body["deviceIdentifier"] == "" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices", map[string]string{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices", map[string]string{"key": "secret-1"})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("bad expiry", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices", map[string]string{"key": "secret-2", "expiry": "tomorrow"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("with expiry", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour).Format(time.RFC3339)
		resp := env.post(t, "/api/v1/devices", map[string]string{"key": "secret-3", "expiry": expiry})
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("status = %d, want 201", resp.StatusCode)
		}
	})
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t, time.Second)

	d, err := env.store.Create("good-key", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	past := time.Now().Add(-time.Hour)
	if _, err := env.store.Create("stale-key", &past); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("valid key returns identifier", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices/register", map[string]string{"key": "good-key"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["deviceIdentifier"] != d.Identifier {
			t.Errorf("deviceIdentifier = %v, want %v", body["deviceIdentifier"], d.Identifier)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices/register", map[string]string{"key": "nope"})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("expired key", func(t *testing.T) {
		resp := env.post(t, "/api/v1/devices/register", map[string]string{"key": "stale-key"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestDeleteDevice(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		resp := env.delete(t, "/api/v1/devices", map[string]string{"key": "nope"})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("removes key", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		if _, err := env.store.Create("doomed", nil); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		resp := env.delete(t, "/api/v1/devices", map[string]string{"key": "doomed"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if _, err := env.store.LookupByKey("doomed"); err == nil {
			t.Error("key survived deletion")
		}
	})

	t.Run("connected device is force-disconnected", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		ws, _ := connectDevice(t, env, "doomed-live")

		resp := env.delete(t, "/api/v1/devices", map[string]string{"key": "doomed-live"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		if err := ws.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("SetReadDeadline() error = %v", err)
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("reading force_disconnect: %v", err)
		}

		var env2 gateway.Envelope
		if err := json.Unmarshal(data, &env2); err != nil {
			t.Fatalf("unmarshaling envelope: %v", err)
		}
		if env2.Event != gateway.EventForceDisconnect {
			t.Fatalf("event = %q, want %q", env2.Event, gateway.EventForceDisconnect)
		}
		var payload gateway.ForceDisconnectPayload
		if err := json.Unmarshal(env2.Data, &payload); err != nil {
			t.Fatalf("unmarshaling payload: %v", err)
		}
		if payload.Reason != gateway.ReasonKeyDeleted {
			t.Errorf("reason = %q, want %q", payload.Reason, gateway.ReasonKeyDeleted)
		}
	})

	t.Run("closes the connection bound at removal time", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		ws1, identifier := connectDevice(t, env, "doomed-reconnect")

		// A reconnect supersedes the first binding; the delete must sever
		// whichever connection holds the binding when the record goes.
		wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?identifier=" + identifier
		ws2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Dial() error = %v", err)
		}
		t.Cleanup(func() { ws2.Close() })
		if err := ws2.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("SetReadDeadline() error = %v", err)
		}
		if _, _, err := ws2.ReadMessage(); err != nil {
			t.Fatalf("reading connected event: %v", err)
		}
		ws1.Close()

		resp := env.delete(t, "/api/v1/devices", map[string]string{"key": "doomed-reconnect"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		_, data, err := ws2.ReadMessage()
		if err != nil {
			t.Fatalf("reading force_disconnect: %v", err)
		}
		var env2 gateway.Envelope
		if err := json.Unmarshal(data, &env2); err != nil {
			t.Fatalf("unmarshaling envelope: %v", err)
		}
		if env2.Event != gateway.EventForceDisconnect {
			t.Fatalf("event = %q, want %q", env2.Event, gateway.EventForceDisconnect)
		}

		// No binding survives the removal.
		if _, ok := env.gateway.Resolve(identifier); ok {
			t.Error("identifier still resolves to a connection after delete")
		}
	})
}

func TestSendSMS(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t, time.Second)

		cases := []map[string]string{
			{"destination": "+1", "message": "hi"},
			{"deviceIdentifier": "dev", "message": "hi"},
			{"deviceIdentifier": "dev", "destination": "+1"},
		}
		for _, body := range cases {
			resp := env.post(t, "/api/v1/sms", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("body %v: status = %d, want 400", body, resp.StatusCode)
			}
		}
	})

	t.Run("unknown identifier", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		resp := env.post(t, "/api/v1/sms", map[string]string{
			"deviceIdentifier": "ghost", "destination": "+1", "message": "hi",
		})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("registered but offline", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		d, err := env.store.Create("offline-key", nil)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		resp := env.post(t, "/api/v1/sms", map[string]string{
			"deviceIdentifier": d.Identifier, "destination": "+1", "message": "hi",
		})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("silent device times out", func(t *testing.T) {
		env := newTestEnv(t, 150*time.Millisecond)
		_, identifier := connectDevice(t, env, "mute-key")

		resp := env.post(t, "/api/v1/sms", map[string]string{
			"deviceIdentifier": identifier, "destination": "+1", "message": "hi",
		})
		if resp.StatusCode != http.StatusRequestTimeout {
			t.Errorf("status = %d, want 408", resp.StatusCode)
		}
	})

	t.Run("device reply completes the call", func(t *testing.T) {
		env := newTestEnv(t, 2*time.Second)
		ws, identifier := connectDevice(t, env, "live-key")

		// Fake device: answer the first insert-sms push.
		go func() {
			ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test goroutine
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var envlp gateway.Envelope
			if json.Unmarshal(data, &envlp) != nil || envlp.Event != gateway.EventInsertSMS {
				return
			}
			var cmd gateway.SMSCommand
			if json.Unmarshal(envlp.Data, &cmd) != nil {
				return
			}
			reply, _ := json.Marshal(map[string]any{
				"event": gateway.EventSMSResponse,
				"data": map[string]any{
					"requestId": cmd.RequestID,
					"status":    true,
					"message":   "SMS queued on handset",
				},
			})
			ws.WriteMessage(websocket.TextMessage, reply) //nolint:errcheck // Test goroutine
		}()

		resp := env.post(t, "/api/v1/sms", map[string]string{
			"deviceIdentifier": identifier, "destination": "+15551234567", "message": "hello",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["status"] != true || body["deviceMessage"] != "SMS queued on handset" {
			t.Errorf("body = %v", body)
		}
	})
}

func TestHistoryEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, time.Second)

		// Rebuild the router without a history repository.
		server, err := New(Deps{
			Config:  config.APIConfig{},
			Logger:  logging.Default(),
			Store:   env.store,
			Gateway: env.gateway,
			Broker:  env.broker,
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		srv := httptest.NewServer(server.buildRouter())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/v1/history")
		if err != nil {
			t.Fatalf("GET /api/v1/history: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("lists entries", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		env.history.entries = []history.Entry{
			{Identifier: "dev-1", Outcome: history.OutcomeDelivered},
			{Identifier: "dev-2", Outcome: history.OutcomeTimeout},
		}

		resp, err := http.Get(env.srv.URL + "/api/v1/history?device=dev-1")
		if err != nil {
			t.Fatalf("GET /api/v1/history: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		if body["count"] != float64(1) {
			t.Errorf("count = %v, want 1", body["count"])
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		env := newTestEnv(t, time.Second)
		resp, err := http.Get(env.srv.URL + "/api/v1/history?limit=many")
		if err != nil {
			t.Fatalf("GET /api/v1/history: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, time.Second)
	connectDevice(t, env, "stats-key")
	if _, err := env.store.Create("idle-key", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resp, err := http.Get(env.srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("GET /api/v1/stats: %v", err)
	}
	defer resp.Body.Close()

	body := decodeBody(t, resp)
	if body["registered"] != float64(2) {
		t.Errorf("registered = %v, want 2", body["registered"])
	}
	if body["connected"] != float64(1) {
		t.Errorf("connected = %v, want 1", body["connected"])
	}
	if body["pending"] != float64(0) {
		t.Errorf("pending = %v, want 0", body["pending"])
	}
}
