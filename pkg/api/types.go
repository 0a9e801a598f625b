package api

// Request/response types for the REST surface and WebSocket feed.

// ==============================
// REST Request Types
// ==============================

// PlaceOrderRequest is the payload for POST /api/v1/orders.
// Side uses the wire encoding 0=ask, 1=bid.
type PlaceOrderRequest struct {
	Trader string `json:"trader"` // caller's address (0x...)
	Token  string `json:"token"`  // traded asset address
	Side   uint8  `json:"side"`
	Price  int64  `json:"price"`
	Amount int64  `json:"amount"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Trader  string `json:"trader"`
	OrderID uint64 `json:"orderId"`
}

// UpdateOrderRequest is the payload for POST /api/v1/orders/update.
type UpdateOrderRequest struct {
	Trader  string `json:"trader"`
	OrderID uint64 `json:"orderId"`
	Price   int64  `json:"price"`
	Amount  int64  `json:"amount"`
}

// AdminRequest carries the caller for privileged operations.
type AdminRequest struct {
	Caller string `json:"caller"`
}

// MigrateOrderRequest is the payload for POST /api/v1/admin/migrate.
type MigrateOrderRequest struct {
	Caller string    `json:"caller"`
	Order  OrderInfo `json:"order"`
}

// FundRequest mints and approves dev-bank funds for a trader.
type FundRequest struct {
	Trader string `json:"trader"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// ==============================
// REST Response Types
// ==============================

// OrderInfo mirrors a stored order record.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Token     string `json:"token"`
	Side      uint8  `json:"side"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"` // remaining unmatched quantity
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

// AssetInfo is one aggregate asset list entry.
type AssetInfo struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// TradeInfo mirrors a recorded fill.
type TradeInfo struct {
	ID           string `json:"id"`
	Token        string `json:"token"`
	Price        int64  `json:"price"`
	Qty          int64  `json:"qty"`
	TakerOrderID uint64 `json:"takerOrderId"`
	MakerOrderID uint64 `json:"makerOrderId"`
	TakerSide    string `json:"takerSide"`
	Timestamp    int64  `json:"timestamp"`
}

// PlaceOrderResponse is returned from order submission.
type PlaceOrderResponse struct {
	OrderID uint64 `json:"orderId"`
	Status  string `json:"status"`
}

// StatusResponse acknowledges lifecycle and admin operations.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage subscriptions,
// e.g. channels ["trades:0xToken...", "book:0xToken..."].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on every fill.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Token     string `json:"token"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	TakerSide string `json:"takerSide"`
	Timestamp int64  `json:"timestamp"`
}

// BookUpdate is broadcast after an operation changes the active set.
type BookUpdate struct {
	Type        string `json:"type"` // "book"
	Token       string `json:"token"`
	ActiveAsks  uint64 `json:"activeAsks"`
	ActiveBids  uint64 `json:"activeBids"`
	OrderCount  uint64 `json:"orderCount"`
	GeneratedAt int64  `json:"generatedAt"`
}
