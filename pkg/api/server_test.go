package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/limitbook/params"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/metrics"
	"github.com/uhyunpark/limitbook/pkg/storage"
)

const owner = "0x00000000000000000000000000000000000000aa"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	collector := metrics.NewCollector()
	var srv *Server
	book := orderbook.New(params.DefaultBook(), orderbook.WithListener(orderbook.Listeners{
		storage.NewJournal(store, nil),
		collector,
		orderbook.ListenerFunc(func(e orderbook.Event) { srv.Announce(e) }),
	}))
	srv = NewServer(book, WithStore(store), WithMetrics(collector))
	return srv
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func eventTypes(events []json.RawMessage) []string {
	out := make([]string, len(events))
	for i, raw := range events {
		var e struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &e)
		out[i] = e.Type
	}
	return out
}

type submitBody struct {
	Status  string            `json:"status"`
	OrderID string            `json:"orderId"`
	Events  []json.RawMessage `json:"events"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitAndMatch(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/orders", `{"id":"s1","side":"SELL","price":"100","volume":"2","owner":"`+owner+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[submitBody](t, rec)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "s1", resp.OrderID)
	assert.Equal(t, []string{"order-posted"}, eventTypes(resp.Events))

	rec = do(t, s, "POST", "/api/v1/orders", `{"id":"b1","side":"buy","price":101,"volume":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[submitBody](t, rec)
	assert.Equal(t, []string{"order-filled", "order-partially-filled", "trade-executed"}, eventTypes(resp.Events))

	rec = do(t, s, "GET", "/api/v1/book", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"BUY":  {"price": "0.00000000", "volume": "0.00000000", "side": "BUY"},
		"SELL": {"price": "100.00000000", "volume": "1.50000000", "side": "SELL"}
	}`, rec.Body.String())

	rec = do(t, s, "GET", "/api/v1/trades?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode[[]map[string]any](t, rec)
	require.Len(t, trades, 1)
	assert.Equal(t, "b1", trades[0]["buy"])
	assert.Equal(t, "s1", trades[0]["sell"])
	assert.Equal(t, "50.00000000", trades[0]["cost"])

	rec = do(t, s, "GET", "/api/v1/orders/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[struct {
		Order   map[string]any `json:"order"`
		Status  string         `json:"status"`
		Resting bool           `json:"resting"`
	}](t, rec)
	assert.True(t, info.Resting)
	assert.Equal(t, "partially_filled", info.Status)
	assert.Equal(t, "1.50000000", info.Order["volume"])
	assert.Equal(t, owner, info.Order["owner"])

	rec = do(t, s, "GET", "/api/v1/orders/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info2 := decode[OrderInfo](t, rec)
	assert.False(t, info2.Resting)
	assert.Equal(t, storage.StatusFilled, info2.Status)
}

func TestSubmitRejects(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", `{"id":"s1","side":"SELL","price":"100","volume":"1"}`).Code)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"bad side", `{"side":"HOLD","price":"1","volume":"1"}`, http.StatusBadRequest},
		{"negative price", `{"side":"BUY","price":"-1","volume":"1"}`, http.StatusBadRequest},
		{"zero volume", `{"side":"BUY","price":"1","volume":"0"}`, http.StatusBadRequest},
		{"bad owner", `{"side":"BUY","price":"1","volume":"1","owner":"alice"}`, http.StatusBadRequest},
		{"duplicate", `{"id":"s1","side":"SELL","price":"100","volume":"1"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/v1/orders", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			errResp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, errResp.Error)
		})
	}

	rec := do(t, s, "GET", "/api/v1/book/sell/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[BookOrders](t, rec)
	assert.Len(t, orders.Orders, 1, "rejected submits leave the book unchanged")
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", `{"id":"s1","side":"SELL","price":"100","volume":"1"}`).Code)

	rec := do(t, s, "DELETE", "/api/v1/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[submitBody](t, rec)
	assert.Equal(t, "noop", resp.Status)
	assert.Empty(t, resp.Events)

	rec = do(t, s, "DELETE", "/api/v1/orders/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[submitBody](t, rec)
	assert.Equal(t, "cancelled", resp.Status)
	assert.Equal(t, []string{"order-cancel"}, eventTypes(resp.Events))

	rec = do(t, s, "GET", "/api/v1/orders/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[OrderInfo](t, rec)
	assert.False(t, info.Resting)
	assert.Equal(t, storage.StatusCancelled, info.Status)

	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/v1/orders/never", "").Code)
}

func TestPeek(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", `{"side":"BUY","price":"99.5","volume":"3"}`).Code)

	rec := do(t, s, "GET", "/api/v1/book/BUY", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"price":"99.50000000","volume":"3.00000000","side":"BUY"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/v1/book/buy?level=1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/v1/book/buy?level=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/v1/book/hold", "").Code)
}

func TestDepth(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"side":"SELL","price":"101.001","volume":"1"}`,
		`{"side":"SELL","price":"101.004","volume":"2"}`,
		`{"side":"SELL","price":"102","volume":"0.5"}`,
	} {
		require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", body).Code)
	}

	rec := do(t, s, "GET", "/api/v1/book/sell/depth", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"side":"SELL","levels":[
		{"price":"101.00","volume":"3.00000000","side":"SELL"},
		{"price":"102.00","volume":"0.50000000","side":"SELL"}
	]}`, rec.Body.String())

	rec = do(t, s, "GET", "/api/v1/book/sell/depth?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[BookDepth](t, rec).Levels, 1)

	rec = do(t, s, "GET", "/api/v1/book/buy/depth", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"side":"BUY","levels":[]}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/v1/book/sell/depth?limit=-1", "").Code)
}

func TestTradesLimit(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "GET", "/api/v1/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/v1/trades?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/v1/trades?limit=abc", "").Code)
}

func TestActions(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/v1/actions", `{"type":"post","order":{"id":"s1","side":"SELL","price":"100","volume":"1"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", decode[submitBody](t, rec).Status)

	rec = do(t, s, "POST", "/api/v1/actions", `{"type":"cancel","id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[submitBody](t, rec).Status)

	rec = do(t, s, "POST", "/api/v1/actions", `{"type":"amend","id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `limitbook_book_submit_errors_total{reason="unrecognized_action"} 1`)
	assert.Contains(t, rec.Body.String(), `limitbook_book_events_total{type="order-cancel"} 1`)
}

// wsReader splits frames into messages, since queued messages may share one
// frame, newline separated.
type wsReader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// next returns the next message of type typ, skipping any other.
func (r *wsReader) next(typ string) json.RawMessage {
	r.t.Helper()
	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if len(r.pending) == 0 {
			_, data, err := r.conn.ReadMessage()
			require.NoError(r.t, err)
			r.pending = bytes.Split(data, []byte{'\n'})
		}
		raw := r.pending[0]
		r.pending = r.pending[1:]

		var env wsEnvelope
		require.NoError(r.t, json.Unmarshal(raw, &env))
		if env.Type == typ {
			return env.Data
		}
	}
}

func dialWS(t *testing.T, s *Server) *wsReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Hub().Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsReader{t: t, conn: conn}
}

func TestWebSocketStreamsTrades(t *testing.T) {
	s := newTestServer(t)
	ws := dialWS(t, s)

	require.NoError(t, ws.conn.WriteJSON(WSSubscribeRequest{Op: WSOpSubscribe, Channels: []string{ChannelTrades}}))
	var ack WSAck
	require.NoError(t, json.Unmarshal(ws.next(WSTypeAck), &ack))
	assert.Equal(t, WSAck{Op: WSOpSubscribe, Channels: []string{ChannelTrades}}, ack)
	require.True(t, s.Hub().HasSubscribers(ChannelTrades))

	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", `{"id":"s1","side":"SELL","price":"100","volume":"1"}`).Code)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", `{"id":"b1","side":"BUY","price":"100","volume":"1"}`).Code)

	var ev struct {
		Trade map[string]any `json:"trade"`
	}
	require.NoError(t, json.Unmarshal(ws.next("trade-executed"), &ev))
	assert.Equal(t, "b1", ev.Trade["buy"])
	assert.Equal(t, "s1", ev.Trade["sell"])
}

func TestWebSocketBookSnapshotOnSubscribe(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/orders", `{"id":"b1","side":"BUY","price":"99","volume":"2"}`).Code)

	ws := dialWS(t, s)
	require.NoError(t, ws.conn.WriteJSON(WSSubscribeRequest{Op: WSOpSubscribe, Channels: []string{ChannelBook, "candles"}}))

	var ack WSAck
	require.NoError(t, json.Unmarshal(ws.next(WSTypeAck), &ack))
	assert.Equal(t, []string{ChannelBook}, ack.Channels)
	assert.Equal(t, []string{"candles"}, ack.Rejected)

	var update BookUpdate
	require.NoError(t, json.Unmarshal(ws.next(ChannelBook), &update))
	assert.Equal(t, "99.00000000", update.Top.Buy.Price)
	assert.Equal(t, "2.00000000", update.Top.Buy.Volume)
	assert.Equal(t, "0.00000000", update.Top.Sell.Price)

	require.NoError(t, ws.conn.WriteJSON(WSSubscribeRequest{Op: "replay"}))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(ws.next(WSTypeError), &resp))
	assert.Equal(t, "unknown op", resp.Error)
}
