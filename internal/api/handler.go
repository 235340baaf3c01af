// Package api serves the node's read-only operator endpoints. Failures in
// the ledger pipeline never surface to end users at request time; operators
// detect them here instead, by comparing per-node counts and Merkle roots
// across nodes.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/auditmesh/auditmesh/internal/merkle"
	"github.com/auditmesh/auditmesh/internal/metrics"
	"github.com/auditmesh/auditmesh/internal/store"
)

// Options configures the operator API router.
type Options struct {
	NodeID       string
	CORSOrigins  []string
	RateLimitRPS int
}

// Handler serves ledger inspection requests for one node.
type Handler struct {
	nodeID string
	st     store.Store
	log    *zap.Logger
}

// NewRouter builds the Gin engine with all operator routes mounted.
func NewRouter(st store.Store, opts Options, log *zap.Logger) *gin.Engine {
	h := &Handler{nodeID: opts.NodeID, st: st, log: log}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.Middleware())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{http.MethodGet},
		}))
	}
	if opts.RateLimitRPS > 0 {
		r.Use(RateLimiter(opts.RateLimitRPS, opts.RateLimitRPS*2))
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ledger/count", h.Count)
	r.GET("/ledger/root", h.Root)
	r.GET("/ledger/transactions/:id", h.Transaction)
	r.GET("/ledger/entities/:class/:id", h.EntityHistory)
	return r
}

// Healthz reports liveness; it fails when the ledger store is unreachable.
func (h *Handler) Healthz(c *gin.Context) {
	if _, err := h.st.Count(c.Request.Context()); err != nil {
		h.log.Error("health check: ledger store unreachable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "nodeId": h.nodeID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "nodeId": h.nodeID})
}

// Count returns this node's total entry count — the cheapest cross-node
// reconciliation signal.
func (h *Handler) Count(c *gin.Context) {
	n, err := h.st.Count(c.Request.Context())
	if err != nil {
		h.log.Error("count ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodeId": h.nodeID, "count": n})
}

// Root recomputes the Merkle root over this node's full ledger in append
// order. Equal roots across nodes prove equal ledgers in equal order.
func (h *Handler) Root(c *gin.Context) {
	txs, err := h.st.Transactions(c.Request.Context())
	if err != nil {
		h.log.Error("load transactions for root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nodeId": h.nodeID,
		"count":  len(txs),
		"root":   merkle.BuildRoot(txs),
	})
}

// Transaction returns one ledger entry by transaction id.
func (h *Handler) Transaction(c *gin.Context) {
	e, err := h.st.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		h.log.Error("get transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// EntityHistory returns every ledger entry for one entity in append order.
func (h *Handler) EntityHistory(c *gin.Context) {
	entries, err := h.st.History(c.Request.Context(), c.Param("class"), c.Param("id"))
	if err != nil {
		h.log.Error("entity history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entityClass": c.Param("class"),
		"entityId":    c.Param("id"),
		"entries":     entries,
	})
}
