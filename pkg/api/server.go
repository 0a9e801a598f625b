package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/escrowbook/escrowbook/pkg/book"
	"github.com/escrowbook/escrowbook/pkg/engine"
	"github.com/escrowbook/escrowbook/pkg/escrow"
)

// Server exposes the ledger over REST and WebSocket. The trader
// address in each request body plays the role of the on-chain
// currentCaller collaborator.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	// bank, when set, enables the dev-mode funding endpoint.
	bank *escrow.TokenBank
}

func NewServer(eng *engine.Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		eng:    eng,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

// WithDevBank registers the dev funding endpoint backed by the
// in-memory token bank.
func (s *Server) WithDevBank(bank *escrow.TokenBank) *Server {
	s.bank = bank
	s.router.PathPrefix("/api/v1").Subrouter().
		HandleFunc("/admin/fund", s.handleFund).Methods("POST")
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order lifecycle
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/update", s.handleUpdateOrder).Methods("POST")

	// Views
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/trades/{token}", s.handleGetTrades).Methods("GET")

	// Privileged
	api.HandleFunc("/admin/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/admin/unpause", s.handleUnpause).Methods("POST")
	api.HandleFunc("/admin/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/admin/migrate", s.handleMigrate).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader, "trader")
	if !ok {
		return
	}
	token, ok := parseAddress(w, req.Token, "token")
	if !ok {
		return
	}

	id, fills, err := s.eng.PlaceOrder(trader, token, book.Side(req.Side), req.Price, req.Amount)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.broadcastBook(token)
	for _, t := range fills {
		s.hub.BroadcastToChannel("trades:"+token.Hex(), TradeUpdate{
			Type:      "trade",
			Token:     token.Hex(),
			Price:     t.Price,
			Qty:       t.Qty,
			TakerSide: t.TakerSide.String(),
			Timestamp: t.Timestamp,
		})
	}

	respondJSON(w, PlaceOrderResponse{OrderID: id, Status: "accepted"})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader, "trader")
	if !ok {
		return
	}
	if err := s.eng.Close(trader, req.OrderID); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "closed"})
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader, "trader")
	if !ok {
		return
	}
	if err := s.eng.UpdateOrder(trader, req.OrderID, req.Price, req.Amount); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "updated"})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.eng.Orders()
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = orderInfo(o)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.eng.OrderByID(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.eng.Assets()
	out := make([]AssetInfo, len(assets))
	for i, a := range assets {
		out[i] = AssetInfo{Asset: a.Asset.Hex(), Amount: a.Amount}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	token, ok := parseAddress(w, mux.Vars(r)["token"], "token")
	if !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	trades, err := s.eng.RecentTrades(token, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade query failed", err.Error())
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{
			ID:           t.ID,
			Token:        t.Token.Hex(),
			Price:        t.Price,
			Qty:          t.Qty,
			TakerOrderID: t.TakerOrderID,
			MakerOrderID: t.MakerOrderID,
			TakerSide:    t.TakerSide.String(),
			Timestamp:    t.Timestamp,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, s.eng.Pause, "paused")
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, s.eng.Unpause, "unpaused")
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, s.eng.WithdrawAll, "swept")
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, op func(common.Address) error, status string) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	if err := op(caller); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: status})
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req MigrateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	trader, ok := parseAddress(w, req.Order.Trader, "order.trader")
	if !ok {
		return
	}
	token, ok := parseAddress(w, req.Order.Token, "order.token")
	if !ok {
		return
	}

	rec := book.Order{
		ID:        req.Order.ID,
		Trader:    trader,
		Token:     token,
		Side:      book.Side(req.Order.Side),
		Price:     req.Order.Price,
		Amount:    req.Order.Amount,
		Status:    parseStatus(req.Order.Status),
		CreatedAt: req.Order.CreatedAt,
	}
	id, err := s.eng.MigrateOrder(caller, rec)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, PlaceOrderResponse{OrderID: id, Status: "migrated"})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := parseAddress(w, req.Trader, "trader")
	if !ok {
		return
	}
	asset, ok := parseAddress(w, req.Asset, "asset")
	if !ok {
		return
	}
	s.bank.Mint(trader, asset, req.Amount)
	s.bank.Approve(trader, asset, req.Amount)
	respondJSON(w, StatusResponse{Status: "funded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) broadcastBook(token common.Address) {
	s.hub.BroadcastToChannel("book:"+token.Hex(), BookUpdate{
		Type:        "book",
		Token:       token.Hex(),
		ActiveAsks:  s.eng.AskOrderCount(),
		ActiveBids:  s.eng.BidOrderCount(),
		OrderCount:  s.eng.OrderCount(),
		GeneratedAt: time.Now().UnixMilli(),
	})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o book.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Token:     o.Token.Hex(),
		Side:      uint8(o.Side),
		Price:     o.Price,
		Amount:    o.Amount,
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
	}
}

func parseStatus(s string) book.Status {
	switch s {
	case "partially_filled":
		return book.PartiallyFilled
	case "filled":
		return book.Filled
	case "closed":
		return book.Closed
	default:
		return book.Open
	}
}

func parseAddress(w http.ResponseWriter, s, field string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", field)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// respondEngineError maps the error taxonomy onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownOrderType),
		errors.Is(err, engine.ErrSameTokenOrder),
		errors.Is(err, engine.ErrZeroAmount),
		errors.Is(err, engine.ErrZeroPrice),
		errors.Is(err, engine.ErrNotionalOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrInsufficientAllowance):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrNotOwner),
		errors.Is(err, engine.ErrNotPrivileged):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyClosed),
		errors.Is(err, engine.ErrContractPaused):
		status = http.StatusConflict
	}
	respondError(w, status, err.Error(), "")
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
