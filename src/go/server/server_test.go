package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"whatsapp-relay/src/go/config"
	"whatsapp-relay/src/go/session"
	"whatsapp-relay/src/go/whatsapp"
	"whatsapp-relay/src/go/whatsapp/mocks"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeMessenger struct {
	err   error
	calls int
	to    string
	body  string
}

func (f *fakeMessenger) SendMessage(_ context.Context, to, body string) error {
	f.calls++
	f.to, f.body = to, body
	return f.err
}

func newTestRouter(store *session.Store, messenger Messenger) *gin.Engine {
	logger, _ := test.NewNullLogger()
	return New(store, messenger, whatsapp.NewBroadcaster(8, logger), logger).SetupRoutes()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func connected() *session.Store {
	store := session.NewStore()
	store.SetConnected(session.AccountInfo{Phone: "5551234", Platform: "android"})
	return store
}

func TestStatus(t *testing.T) {
	t.Run("should report nulls before ready", func(t *testing.T) {
		req := require.New(t)
		router := newTestRouter(session.NewStore(), &fakeMessenger{})

		rec, body := doJSON(t, router, http.MethodGet, "/status", nil)

		req.Equal(http.StatusOK, rec.Code)
		req.JSONEq(`{"connected":false,"phoneNumber":null,"platform":null}`, rec.Body.String())
		req.Equal(false, body["connected"])
	})

	t.Run("should report the account when connected", func(t *testing.T) {
		req := require.New(t)
		router := newTestRouter(connected(), &fakeMessenger{})

		rec, _ := doJSON(t, router, http.MethodGet, "/status", nil)

		req.JSONEq(`{"connected":true,"phoneNumber":"5551234","platform":"android"}`, rec.Body.String())
	})
}

func TestQR(t *testing.T) {
	t.Run("should report a missing QR", func(t *testing.T) {
		rec, _ := doJSON(t, newTestRouter(session.NewStore(), &fakeMessenger{}), http.MethodGet, "/qr", nil)
		require.JSONEq(t, `{"message":"not yet generated"}`, rec.Body.String())
	})

	t.Run("should return the QR while awaiting a scan", func(t *testing.T) {
		store := session.NewStore()
		store.SetAwaitingScan("data:image/png;base64,AAA")

		rec, _ := doJSON(t, newTestRouter(store, &fakeMessenger{}), http.MethodGet, "/qr", nil)
		require.JSONEq(t, `{"qr":"data:image/png;base64,AAA"}`, rec.Body.String())
	})

	t.Run("should report connected instead of a QR", func(t *testing.T) {
		rec, _ := doJSON(t, newTestRouter(connected(), &fakeMessenger{}), http.MethodGet, "/qr", nil)
		require.JSONEq(t, `{"connected":true}`, rec.Body.String())
	})
}

func TestRoot(t *testing.T) {
	req := require.New(t)

	rec, _ := doJSON(t, newTestRouter(session.NewStore(), &fakeMessenger{}), http.MethodGet, "/", nil)
	req.JSONEq(`{"status":"online","whatsapp":"disconnected"}`, rec.Body.String())

	rec, _ = doJSON(t, newTestRouter(connected(), &fakeMessenger{}), http.MethodGet, "/", nil)
	req.JSONEq(`{"status":"online","whatsapp":"connected"}`, rec.Body.String())

	rec, _ = doJSON(t, newTestRouter(connected(), &fakeMessenger{}), http.MethodGet, "/health", nil)
	req.Equal(http.StatusOK, rec.Code)
}

func TestSend(t *testing.T) {
	t.Run("should return 503 when disconnected regardless of body", func(t *testing.T) {
		req := require.New(t)
		messenger := &fakeMessenger{}
		router := newTestRouter(session.NewStore(), messenger)

		for _, body := range []interface{}{
			nil,
			map[string]string{},
			map[string]string{"to": "5551234", "message": "hi"},
			"garbage",
		} {
			rec, out := doJSON(t, router, http.MethodPost, "/send", body)
			req.Equal(http.StatusServiceUnavailable, rec.Code)
			req.Equal("not connected", out["error"])
		}
		req.Zero(messenger.calls)
	})

	t.Run("should reject missing fields", func(t *testing.T) {
		req := require.New(t)
		messenger := &fakeMessenger{}
		router := newTestRouter(connected(), messenger)

		rec, _ := doJSON(t, router, http.MethodPost, "/send", map[string]string{"to": "5551234"})
		req.Equal(http.StatusBadRequest, rec.Code)

		rec, _ = doJSON(t, router, http.MethodPost, "/send", map[string]string{"message": "hi"})
		req.Equal(http.StatusBadRequest, rec.Code)
		req.Zero(messenger.calls)
	})

	t.Run("should send and report success", func(t *testing.T) {
		req := require.New(t)
		messenger := &fakeMessenger{}
		router := newTestRouter(connected(), messenger)

		rec, _ := doJSON(t, router, http.MethodPost, "/send", map[string]string{"to": "5551234", "message": "hi"})

		req.Equal(http.StatusOK, rec.Code)
		req.JSONEq(`{"success":true}`, rec.Body.String())
		req.Equal("5551234", messenger.to)
		req.Equal("hi", messenger.body)
	})

	t.Run("should accept phone as recipient alias", func(t *testing.T) {
		req := require.New(t)
		messenger := &fakeMessenger{}
		router := newTestRouter(connected(), messenger)

		rec, _ := doJSON(t, router, http.MethodPost, "/send", map[string]string{"phone": "5551234", "message": "hi"})

		req.Equal(http.StatusOK, rec.Code)
		req.Equal("5551234", messenger.to)
	})

	t.Run("should map send failures to 500", func(t *testing.T) {
		req := require.New(t)
		messenger := &fakeMessenger{err: &whatsapp.SendFailedError{To: "5551234", Err: errors.New("rejected")}}
		router := newTestRouter(connected(), messenger)

		rec, out := doJSON(t, router, http.MethodPost, "/send", map[string]string{"to": "5551234", "message": "hi"})

		req.Equal(http.StatusInternalServerError, rec.Code)
		req.Contains(out["error"], "rejected")
	})

	t.Run("should map a late disconnect to 503", func(t *testing.T) {
		req := require.New(t)
		messenger := &fakeMessenger{err: whatsapp.ErrNotConnected}
		router := newTestRouter(connected(), messenger)

		rec, _ := doJSON(t, router, http.MethodPost, "/send", map[string]string{"to": "5551234", "message": "hi"})

		req.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

// newAdapterRouter wires the real adapter on a mocked engine.
func newAdapterRouter(t *testing.T, sendCfg config.SendConfig) (*gin.Engine, *whatsapp.Adapter, *mocks.MockEngine) {
	t.Helper()
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	engine.EXPECT().Subscribe(gomock.Any())

	logger, _ := test.NewNullLogger()
	store := session.NewStore()
	events := whatsapp.NewBroadcaster(8, logger)
	adapter := whatsapp.NewAdapter(engine, store, events, sendCfg, 8, logger)
	adapter.SetQREncoder(func(code string) (string, error) { return "<encoded-" + code + ">", nil })

	return New(store, adapter, events, logger).SetupRoutes(), adapter, engine
}

func TestScenario_PairingThenReady(t *testing.T) {
	req := require.New(t)
	router, adapter, _ := newAdapterRouter(t, config.SendConfig{})

	adapter.HandleEvent(whatsapp.QRIssued{Code: "ABC123"})

	rec, _ := doJSON(t, router, http.MethodGet, "/qr", nil)
	req.JSONEq(`{"qr":"<encoded-ABC123>"}`, rec.Body.String())

	adapter.HandleEvent(whatsapp.Ready{Account: session.AccountInfo{Phone: "5551234", Platform: "android"}})

	rec, _ = doJSON(t, router, http.MethodGet, "/qr", nil)
	req.JSONEq(`{"connected":true}`, rec.Body.String())

	rec, _ = doJSON(t, router, http.MethodGet, "/status", nil)
	req.JSONEq(`{"connected":true,"phoneNumber":"5551234","platform":"android"}`, rec.Body.String())

	adapter.HandleEvent(whatsapp.Disconnected{Reason: "logged out"})

	rec, _ = doJSON(t, router, http.MethodGet, "/status", nil)
	req.JSONEq(`{"connected":false,"phoneNumber":null,"platform":null}`, rec.Body.String())
	rec, _ = doJSON(t, router, http.MethodGet, "/qr", nil)
	req.JSONEq(`{"message":"not yet generated"}`, rec.Body.String())
}

func TestScenario_SendHonorsDelay(t *testing.T) {
	req := require.New(t)
	router, adapter, engine := newAdapterRouter(t, config.SendConfig{MinDelay: time.Second, MaxDelay: 3 * time.Second})
	adapter.HandleEvent(whatsapp.Ready{Account: session.AccountInfo{Phone: "5550000", Platform: "android"}})

	start := time.Now()
	var sendAt time.Time
	engine.EXPECT().Send(gomock.Any(), "5551234", "hi").
		DoAndReturn(func(context.Context, string, string) error {
			sendAt = time.Now()
			return nil
		})

	rec, _ := doJSON(t, router, http.MethodPost, "/send", map[string]string{"to": "5551234", "message": "hi"})

	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"success":true}`, rec.Body.String())
	req.GreaterOrEqual(sendAt.Sub(start), time.Second)
}
