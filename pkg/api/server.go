// Package api serves one order book over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitbook/pkg/app/core/order"
	"github.com/uhyunpark/limitbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/limitbook/pkg/metrics"
	"github.com/uhyunpark/limitbook/pkg/storage"
)

const (
	defaultTradeLimit = 50
	defaultDepth      = 20
	maxTradeLimit     = 1000
	maxBodyBytes      = 1 << 20
)

type Option func(*Server)

// WithStore enables the journal-backed endpoints (order lookup, trades).
func WithStore(st storage.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics records submit outcomes and serves /metrics. Book events are
// counted only when the same collector is also one of the book's listeners.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// Server handles REST API and WebSocket connections
type Server struct {
	book           *orderbook.Book
	store          storage.Store
	metrics        *metrics.Collector
	logger         *zap.SugaredLogger
	allowedOrigins []string

	router *mux.Router
	hub    *Hub // WebSocket hub
}

// NewServer creates a new API server around book. The server is also a book
// Listener; register it with orderbook.WithListener to feed the WebSocket hub.
func NewServer(book *orderbook.Book, opts ...Option) *Server {
	s := &Server{
		book:           book,
		logger:         zap.NewNop().Sugar(),
		allowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		router:         mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order endpoints
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/actions", s.handleSubmitAction).Methods("POST")

	// Book endpoints
	api.HandleFunc("/book", s.handleGetTop).Methods("GET")
	api.HandleFunc("/book/{side}", s.handlePeek).Methods("GET")
	api.HandleFunc("/book/{side}/orders", s.handleGetBookOrders).Methods("GET")
	api.HandleFunc("/book/{side}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub so callers can run it.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// Book Listener
// ==============================

// Announce forwards book events to WebSocket subscribers. Order events go to
// the orders channel and trades to the trades channel. Every event that
// changes the resting set is followed by a top-of-book update.
func (s *Server) Announce(e orderbook.Event) {
	msg := WSMessage{Type: e.Type.String(), Data: e}
	switch e.Type {
	case orderbook.TradeExecuted:
		s.hub.BroadcastToChannel(ChannelTrades, msg)
	default:
		s.hub.BroadcastToChannel(ChannelOrders, msg)
	}

	switch e.Type {
	case orderbook.OrderPosted, orderbook.OrderCancel, orderbook.TradeExecuted:
		if !s.hub.HasSubscribers(ChannelBook) {
			return
		}
		s.hub.BroadcastToChannel(ChannelBook, WSMessage{Type: ChannelBook, Data: s.bookUpdate()})
	}
}

func (s *Server) bookUpdate() BookUpdate {
	return BookUpdate{Top: s.book.Top(), Timestamp: time.Now().UnixMilli()}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	p, err := order.DecodeParams(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	o, err := order.New(p, s.book.OrderOptions()...)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	s.submit(w, r, orderbook.PostAction{Order: o})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.submit(w, r, orderbook.CancelAction{ID: id})
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	action, err := orderbook.DecodeAction(body, s.book.OrderOptions()...)
	if err != nil {
		s.observe(time.Now(), err)
		respondError(w, statusFor(err), "invalid action", err.Error())
		return
	}
	s.submit(w, r, action)
}

// submit runs one action against the book and writes the outcome.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, action orderbook.Action) {
	if post, ok := action.(orderbook.PostAction); ok && post.Order != nil {
		if owner := post.Order.Owner(); owner != "" && !common.IsHexAddress(owner) {
			respondError(w, http.StatusBadRequest, "invalid owner", "owner must be a hex address")
			return
		}
	}

	start := time.Now()
	events, err := s.book.Submit(r.Context(), action)
	s.observe(start, err)
	if err != nil {
		s.logger.Infow("submit_rejected", "action", actionName(action), "err", err)
		respondError(w, statusFor(err), "submit rejected", err.Error())
		return
	}

	resp := SubmitResponse{Events: events}
	switch a := action.(type) {
	case orderbook.PostAction:
		resp.Status = "accepted"
		resp.OrderID = a.Order.ID()
	case orderbook.CancelAction:
		resp.OrderID = a.ID
		if len(events) == 0 {
			resp.Status = "noop"
			respondJSONStatus(w, http.StatusNotFound, resp)
			return
		}
		resp.Status = "cancelled"
	}
	respondJSON(w, resp)
}

func (s *Server) observe(start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveSubmit(start, err)
	}
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info := OrderInfo{}
	if o, ok := s.book.Get(id); ok {
		info.Order = o
		info.Resting = true
		info.Status = storage.StatusOpen
	}
	if s.store != nil {
		rec, err := s.store.LoadOrder(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
			return
		}
		if rec != nil {
			if info.Order == nil {
				info.Order = rec.Order
			}
			info.Status = rec.Status
			info.Updated = rec.Updated
		}
	}
	if info.Order == nil {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}

	respondJSON(w, info)
}

func (s *Server) handleGetTop(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.book.Top())
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	side, err := order.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	level := 0
	if v := r.URL.Query().Get("level"); v != "" {
		if level, err = strconv.Atoi(v); err != nil {
			respondError(w, http.StatusBadRequest, "invalid level", err.Error())
			return
		}
	}

	lv, err := s.book.Peek(side, level)
	if err != nil {
		respondError(w, statusFor(err), "peek failed", err.Error())
		return
	}
	respondJSON(w, lv)
}

func (s *Server) handleGetBookOrders(w http.ResponseWriter, r *http.Request) {
	side, err := order.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	respondJSON(w, BookOrders{Side: side, Orders: s.book.Orders(side)})
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	side, err := order.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	limit := defaultDepth
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	levels := s.book.Depth(side, limit)
	if levels == nil {
		levels = []orderbook.Level{}
	}
	respondJSON(w, BookDepth{Side: side, Levels: levels})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxTradeLimit)
	}

	if s.store == nil {
		respondJSON(w, []any{})
		return
	}
	trades, err := s.store.LoadRecentTrades(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	if trades == nil {
		respondJSON(w, []any{})
		return
	}
	respondJSON(w, trades)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func statusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrLockTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, orderbook.ErrDuplicateOrder):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, orderbook.ErrUnrecognizedAction),
		errors.Is(err, orderbook.ErrLevelUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func actionName(a orderbook.Action) string {
	switch a.(type) {
	case orderbook.PostAction:
		return "post"
	case orderbook.CancelAction:
		return "cancel"
	default:
		return "unknown"
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSONStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

var _ orderbook.Listener = (*Server)(nil)
