// Package api exposes the trading bridge over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tradebridge/internal/bots"
	"tradebridge/internal/bridge"
	"tradebridge/internal/broker"
	"tradebridge/internal/events"
	"tradebridge/internal/monitor"
	"tradebridge/internal/order"
	"tradebridge/internal/reconcile"
	"tradebridge/internal/risk"
	"tradebridge/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the bridge.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	Queries    *db.Queries
	Bridge     *bridge.Bridge
	Broker     broker.Adapter
	Risk       *risk.Manager
	Registry   *bots.Registry
	Reconciler *reconcile.Service
	Metrics    *monitor.Metrics
	JWTSecret  string
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Mode        string
	Symbols     []string
	UseMockFeed bool
	Version     string
}

// Deps bundles the server's collaborators.
type Deps struct {
	Bus        *events.Bus
	Queries    *db.Queries
	Bridge     *bridge.Bridge
	Broker     broker.Adapter
	Risk       *risk.Manager
	Registry   *bots.Registry
	Reconciler *reconcile.Service
	Metrics    *monitor.Metrics
	JWTSecret  string
	Meta       SystemMeta
}

func NewServer(d Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        d.Bus,
		Queries:    d.Queries,
		Bridge:     d.Bridge,
		Broker:     d.Broker,
		Risk:       d.Risk,
		Registry:   d.Registry,
		Reconciler: d.Reconciler,
		Metrics:    d.Metrics,
		JWTSecret:  d.JWTSecret,
		Meta:       d.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/orders", s.submitOrder)
			protected.GET("/orders", s.getOrders)
			protected.GET("/orders/:id", s.getOrder)
			protected.DELETE("/orders/:id", s.cancelOrder)

			protected.GET("/positions", s.getPositions)
			protected.GET("/balance", s.getBalance)

			protected.GET("/limits", s.getLimits)
			protected.PUT("/limits", s.updateLimits)

			protected.GET("/bots", s.listBots)
			protected.POST("/bots", s.createBot)
			protected.DELETE("/bots/:id", s.deleteBot)
			protected.GET("/bots/summary", s.getBotSummary)

			protected.GET("/audit", s.getAudit)
			protected.POST("/reconcile", s.runReconciliation)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":          s.Meta.Mode,
		"symbols":       s.Meta.Symbols,
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
		"queue_depth":   s.Bridge.QueueDepth(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

func (s *Server) submitOrder(c *gin.Context) {
	var req struct {
		Symbol string  `json:"symbol"`
		Side   string  `json:"side"`
		Qty    float64 `json:"qty"`
		Price  float64 `json:"price"`
		BotID  string  `json:"bot_id"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Symbol == "" || req.Qty <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_ORDER",
			"error": "symbol and positive qty are required",
		})
		return
	}
	if !strings.EqualFold(req.Side, "BUY") && !strings.EqualFold(req.Side, "SELL") {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_SIDE",
			"error": "side must be BUY or SELL",
		})
		return
	}
	side := order.NormalizeSide(req.Side)

	o := order.New(CurrentUserID(c), req.BotID, req.Symbol, side, req.Qty, req.Price, nil)
	result, err := s.Bridge.SubmitOrder(c.Request.Context(), o)
	switch {
	case errors.Is(err, bridge.ErrRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":   "ORDER_REJECTED",
			"reason": result.Meta["reject_reason"],
			"order":  result,
		})
	case errors.Is(err, bridge.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "QUEUE_FULL",
			"error": "order queue is full, try again later",
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusCreated, gin.H{"order": result})
	}
}

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.Queries.ListOrders(c.Request.Context(), CurrentUserID(c), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrder(c *gin.Context) {
	rec, err := s.Queries.GetOrder(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "ORDER_NOT_FOUND",
			"error": "order not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": rec})
}

func (s *Server) cancelOrder(c *gin.Context) {
	_, err := s.Bridge.CancelOrder(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "ORDER_NOT_FOUND",
			"error": "order not found",
		})
	case errors.Is(err, bridge.ErrNotCancelable):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "NOT_CANCELABLE",
			"error": err.Error(),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusOK, gin.H{"canceled": true})
	}
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Queries.GetPositions(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getBalance(c *gin.Context) {
	bal, err := s.Broker.GetBalance(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

func (s *Server) getLimits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"limits": s.Risk.GetUserLimits(CurrentUserID(c))})
}

func (s *Server) updateLimits(c *gin.Context) {
	var req risk.Limits
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	userID := CurrentUserID(c)
	s.Risk.SetUserLimits(userID, req)
	c.JSON(http.StatusOK, gin.H{"limits": s.Risk.GetUserLimits(userID)})
}

func (s *Server) listBots(c *gin.Context) {
	userID := CurrentUserID(c)
	type botInfo struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	var out []botInfo
	for _, b := range s.Registry.ForUser(userID) {
		out = append(out, botInfo{ID: b.ID(), Active: b.Active()})
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

func (s *Server) createBot(c *gin.Context) {
	var req struct {
		ID        string  `json:"id"`
		Symbol    string  `json:"symbol"`
		Window    int     `json:"window"`
		Threshold float64 `json:"threshold"`
		Qty       float64 `json:"qty"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.ID == "" || req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_BOT",
			"error": "id and symbol are required",
		})
		return
	}

	userID := CurrentUserID(c)
	bot := bots.NewMeanReversion(bots.MeanReversionParams{
		ID:        req.ID,
		UserID:    userID,
		Symbol:    req.Symbol,
		Window:    req.Window,
		Threshold: req.Threshold,
		Qty:       req.Qty,
	}, s.Bridge)

	// Bots outlive the request, so they run under a background context.
	err := s.Registry.Register(context.Background(), bot)
	switch {
	case errors.Is(err, bots.ErrBotExists):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "BOT_EXISTS",
			"error": err.Error(),
		})
	case errors.Is(err, bots.ErrUserBotCap):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  "BOT_LIMIT_REACHED",
			"error": err.Error(),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusCreated, gin.H{"bot_id": req.ID})
	}
}

func (s *Server) deleteBot(c *gin.Context) {
	err := s.Registry.Unregister(CurrentUserID(c), c.Param("id"))
	if errors.Is(err, bots.ErrBotNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "BOT_NOT_FOUND",
			"error": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) getBotSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.Registry.Summary())
}

func (s *Server) getAudit(c *gin.Context) {
	entries, err := s.Queries.ListAudit(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

func (s *Server) runReconciliation(c *gin.Context) {
	report, err := s.Reconciler.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
