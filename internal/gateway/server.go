// Package gateway is the HTTP submission gateway in front of the engine.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
	"github.com/hakimelghazi/energy-exchange/pricefeed"
)

// Exchange is the engine contract the gateway drives.
type Exchange interface {
	SubmitOrder(ctx context.Context, req engine.SubmitRequest) (*engine.MatchResult, error)
	CancelOrder(ctx context.Context, id int64, user string) (*engine.CancelResult, error)
	OpenOrders(ctx context.Context) ([]engine.Order, error)
	TradeHistory(ctx context.Context) ([]engine.Trade, error)
	UserOrders(ctx context.Context, user string) ([]engine.Order, error)
	Order(ctx context.Context, id int64) (engine.Order, error)
	BookDepth(ctx context.Context, levels int) (engine.Depth, error)
}

type Options struct {
	Logger         *slog.Logger
	Ticker         *pricefeed.PriceCache
	Metrics        http.Handler // served on /metrics when set
	RequestTimeout time.Duration
	RateLimit      float64 // per user per second, 0 disables
	RateBurst      int
}

type Server struct {
	ex      Exchange
	log     *slog.Logger
	ticker  *pricefeed.PriceCache
	metrics http.Handler
	limiter *userLimiter
	timeout time.Duration
}

func New(ex Exchange, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Second
	}
	return &Server{
		ex:      ex,
		log:     opts.Logger.With("component", "gateway"),
		ticker:  opts.Ticker,
		metrics: opts.Metrics,
		limiter: newUserLimiter(opts.RateLimit, opts.RateBurst),
		timeout: opts.RequestTimeout,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Hygiene stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Post("/orders", s.placeOrder)
	r.Get("/orders", s.listOrders)
	r.Get("/orders/{id}", s.getOrder)
	r.Delete("/orders/{id}", s.cancelOrder)
	r.Get("/trades", s.listTrades)
	r.Get("/book", s.book)
	r.Get("/ticker", s.getTicker)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, title := problemFor(err)
	if code >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeProblem(w, r, code, title, err.Error())
}

type placeOrderRequest struct {
	User   string           `json:"user"`
	Type   string           `json:"type"` // "buy" | "sell"
	Mode   string           `json:"mode"` // "limit" | "market"; defaults on price presence
	Amount decimal.Decimal  `json:"amount"`
	Price  *decimal.Decimal `json:"price"`
}

func (req placeOrderRequest) toSubmit() (engine.SubmitRequest, error) {
	side, err := engine.ParseSide(req.Type)
	if err != nil {
		return engine.SubmitRequest{}, err
	}
	mode := engine.ModeLimit
	switch {
	case strings.TrimSpace(req.Mode) != "":
		if mode, err = engine.ParseMode(req.Mode); err != nil {
			return engine.SubmitRequest{}, err
		}
	case req.Price == nil:
		mode = engine.ModeMarket
	}
	out := engine.SubmitRequest{User: req.User, Side: side, Mode: mode, Amount: req.Amount}
	if req.Price != nil {
		out.Price = decimal.NewNullDecimal(*req.Price)
	}
	return out, nil
}

type orderCreateResponse struct {
	OrderID    int64           `json:"order_id"`
	User       string          `json:"user"`
	Side       engine.Side     `json:"side"`
	Mode       engine.Mode     `json:"mode"`
	Amount     decimal.Decimal `json:"amount"`
	Status     engine.Status   `json:"status"`
	Remaining  decimal.Decimal `json:"remaining"`
	Resting    bool            `json:"resting"`
	Trades     []engine.Trade  `json:"trades"`
	RequestID  string          `json:"request_id"`
	ReceivedAt time.Time       `json:"received_at"`
}

// POST /orders
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	sub, err := req.toSubmit()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sub.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	if !s.limiter.Allow(strings.TrimSpace(sub.User)) {
		writeProblem(w, r, http.StatusTooManyRequests, "rate_limited", "too many submissions for user "+sub.User)
		return
	}

	res, err := s.ex.SubmitOrder(r.Context(), sub)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/orders/"+strconv.FormatInt(res.OrderID, 10))
	writeJSON(w, r, http.StatusCreated, orderCreateResponse{
		OrderID:    res.OrderID,
		User:       res.Order.User,
		Side:       res.Order.Side,
		Mode:       res.Order.Mode,
		Amount:     res.Order.OriginalAmount,
		Status:     res.Status,
		Remaining:  res.Remaining,
		Resting:    res.Resting,
		Trades:     res.Trades,
		RequestID:  middleware.GetReqID(r.Context()),
		ReceivedAt: time.Now().UTC(),
	})
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &engine.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}

// DELETE /orders/{id}?user=...
func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		s.fail(w, r, &engine.ValidationError{Field: "user", Reason: "required"})
		return
	}
	res, err := s.ex.CancelOrder(r.Context(), id, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// GET /orders[?user=...]
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []engine.Order
		err    error
	)
	if user := strings.TrimSpace(r.URL.Query().Get("user")); user != "" {
		orders, err = s.ex.UserOrders(r.Context(), user)
	} else {
		orders, err = s.ex.OpenOrders(r.Context())
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orders)
}

// GET /orders/{id}
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.ex.Order(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, o)
}

// GET /trades[?order_id=...]
func (s *Server) listTrades(w http.ResponseWriter, r *http.Request) {
	var filter int64
	if raw := r.URL.Query().Get("order_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.fail(w, r, &engine.ValidationError{Field: "order_id", Reason: "must be an integer"})
			return
		}
		filter = id
	}
	trades, err := s.ex.TradeHistory(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if filter != 0 {
		out := trades[:0]
		for _, tr := range trades {
			if tr.BuyerOrderID == filter || tr.SellerOrderID == filter {
				out = append(out, tr)
			}
		}
		trades = out
	}
	writeJSON(w, r, http.StatusOK, trades)
}

// GET /book[?levels=N]
func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	levels := 0
	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, r, &engine.ValidationError{Field: "levels", Reason: "must be a non-negative integer"})
			return
		}
		levels = n
	}
	depth, err := s.ex.BookDepth(r.Context(), levels)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, depth)
}

// GET /ticker
func (s *Server) getTicker(w http.ResponseWriter, r *http.Request) {
	if s.ticker == nil {
		writeProblem(w, r, http.StatusNotFound, "not_found", "ticker disabled")
		return
	}
	writeJSON(w, r, http.StatusOK, s.ticker.Get())
}
