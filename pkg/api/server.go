// Package api exposes the node's read API and transaction intake over
// REST plus a WebSocket stream of book and trade updates.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/solape-labs/openbook-v2/pkg/app/core/market"
	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
	"github.com/solape-labs/openbook-v2/pkg/app/core/transaction"
	"github.com/solape-labs/openbook-v2/pkg/app/spot"
	"github.com/solape-labs/openbook-v2/pkg/feed"
)

// Server handles REST and WebSocket connections for one spot app.
type Server struct {
	app    *spot.App
	router *mux.Router
	hub    *Hub
}

func NewServer(app *spot.App) *Server {
	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")

	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Transaction intake. Each endpoint accepts the corresponding raw
	// signed transaction envelope and forwards it to the mempool.
	api.HandleFunc("/orders", s.submitHandler(transaction.TxTypePlace)).Methods("POST")
	api.HandleFunc("/orders/cancel", s.submitHandler(transaction.TxTypeCancel)).Methods("POST")
	api.HandleFunc("/deposit", s.submitHandler(transaction.TxTypeDeposit)).Methods("POST")
	api.HandleFunc("/settle", s.submitHandler(transaction.TxTypeSettle)).Methods("POST")
	api.HandleFunc("/consume", s.submitHandler(transaction.TxTypeConsume)).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.MarketList()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	m, err := s.app.MarketSnapshot(symbol)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	snap, ok := s.snapshot(symbol, time.Now().UnixMilli())
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", "")
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if _, err := s.app.MarketSnapshot(symbol); err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	trades := s.app.RecentTrades(symbol, 100)
	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = tradeInfo(t)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addrStr)

	positions := make([]PositionInfo, 0)
	for _, m := range s.app.MarketList() {
		pos := s.app.PositionFor(m.Symbol, addr)
		positions = append(positions, PositionInfo{
			Symbol:              m.Symbol,
			BasePositionLots:    pos.BasePositionLots,
			QuotePositionNative: pos.QuotePositionNative,
			BidsBaseLots:        pos.BidsBaseLots,
			AsksBaseLots:        pos.AsksBaseLots,
			TakerBaseLots:       pos.TakerBaseLots,
			TakerQuoteLots:      pos.TakerQuoteLots,
			BaseFreeLots:        pos.BaseFreeLots,
			QuoteFreeLots:       pos.QuoteFreeLots,
		})
	}
	respondJSON(w, positions)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addrStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addrStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addrStr)

	orders := make([]OrderInfo, 0)
	for _, m := range s.app.MarketList() {
		for _, o := range s.app.OpenOrdersFor(m.Symbol, addr) {
			orders = append(orders, OrderInfo{
				ID:                o.ID,
				Symbol:            m.Symbol,
				Side:              o.Side.String(),
				PriceLots:         o.PriceLots,
				RemainingBaseLots: o.RemainingBaseLots,
				ClientOrderID:     o.ClientOrderID,
				Expiry:            o.ExpiryTimestamp,
			})
		}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	markets := s.app.MarketList()
	pending := make(map[string]int)
	for _, m := range markets {
		pending[m.Symbol] = s.app.PendingEvents(m.Symbol)
	}
	respondJSON(w, ChainStatus{
		Height:        s.app.Height(),
		MempoolSize:   s.app.MempoolSize(),
		Markets:       len(markets),
		PendingEvents: pending,
	})
}

// submitHandler accepts a raw transaction envelope of the expected
// type and admits it to the mempool. Structural validation happens in
// PushTx; everything else is decided when a block applies it.
func (s *Server) submitHandler(want transaction.TxType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
			return
		}
		tx, err := transaction.Parse(body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
			return
		}
		if tx.Type != want {
			respondError(w, http.StatusBadRequest, "wrong transaction type",
				"expected type="+string(want))
			return
		}
		if err := s.app.PushTx(body); err != nil {
			respondError(w, http.StatusBadRequest, "transaction rejected", err.Error())
			return
		}
		log.Printf("[api] tx submitted: type=%s bytes=%d", tx.Type, len(body))
		respondJSON(w, SubmitTxResponse{Status: "submitted"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// BroadcastBlock pushes post-commit book and trade updates to
// subscribed WebSocket clients. The ledger loop calls this from its
// OnCommit hook.
func (s *Server) BroadcastBlock(height, timestamp int64, trades []feed.Trade) {
	now := timestamp * 1000
	for _, m := range s.app.MarketList() {
		snap, ok := s.snapshot(m.Symbol, now)
		if !ok {
			continue
		}
		update := OrderbookUpdate{Type: "orderbook", Height: height, Timestamp: now}
		update.Symbol = m.Symbol
		update.Bids, update.Asks = snap.Bids, snap.Asks
		s.hub.BroadcastToChannel("orderbook:"+m.Symbol, update)
	}
	for _, t := range trades {
		s.hub.BroadcastToChannel("trades:"+t.Symbol, TradeUpdate{
			Type:      "trade",
			TradeInfo: tradeInfo(t),
		})
	}
}

func (s *Server) snapshot(symbol string, ts int64) (OrderbookSnapshot, bool) {
	snap := OrderbookSnapshot{Symbol: symbol, Timestamp: ts}
	bids, asks, ok := s.app.BookLevels(symbol)
	if !ok {
		return snap, false
	}
	snap.Bids = levels(bids)
	snap.Asks = levels(asks)
	return snap, true
}

func levels(in []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{PriceLots: l.Price, BaseLots: l.Qty}
	}
	return out
}

func marketInfo(m market.Market) MarketInfo {
	return MarketInfo{
		Symbol:       m.Symbol,
		BaseAsset:    m.BaseAsset,
		QuoteAsset:   m.QuoteAsset,
		Status:       m.Status.String(),
		BaseLotSize:  m.BaseLotSize,
		QuoteLotSize: m.QuoteLotSize,
		MakerFeeBps:  m.MakerFeeBps,
		TakerFeeBps:  m.TakerFeeBps,
	}
}

func tradeInfo(t feed.Trade) TradeInfo {
	return TradeInfo{
		Symbol:    t.Symbol,
		PriceLots: t.PriceLots,
		BaseLots:  t.BaseLots,
		TakerSide: t.TakerSide,
		Maker:     t.Maker,
		Taker:     t.Taker,
		Height:    t.Height,
		Timestamp: t.Timestamp,
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}
