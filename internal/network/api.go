package network

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MRamiBalles/malfunction-engine/internal/engine"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/storage"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// History rebuilds what happened to an entity from the durable ledger.
type History interface {
	RebuildEntityHistory(ctx context.Context, entityID string) (*storage.EntityHistory, error)
	GenerateRecap(ctx context.Context, entityID string, sinceSol int) ([]storage.RecapEvent, error)
}

// API serves the engine's state over HTTP and the event stream over
// WebSocket.
type API struct {
	engine   *engine.Engine
	hub      *Hub
	history  History
	gatherer prometheus.Gatherer
	logger   *logger.Logger
}

// NewAPI wires the routes. history and gatherer may be nil, in which case
// the history and metrics routes answer 404.
func NewAPI(eng *engine.Engine, hub *Hub, history History, gatherer prometheus.Gatherer, log *logger.Logger) *API {
	return &API{engine: eng, hub: hub, history: history, gatherer: gatherer, logger: log}
}

// Router builds the gin engine with every route.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", a.health)
	api := r.Group("/api")
	{
		api.GET("/entities", a.listEntities)
		api.GET("/entities/:name", a.getEntity)
		api.GET("/entities/:name/faults", a.getFaults)
		api.GET("/entities/:name/history", a.getHistory)
		api.GET("/parts", a.listParts)
		api.GET("/demand", a.demand)
		api.POST("/no-failures", a.setNoFailures)
	}
	if a.gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(a.gatherer)))
	}
	r.GET("/ws", a.serveWS)
	return r
}

func (a *API) health(c *gin.Context) {
	now := a.engine.Now()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mission_time": now.String(), "no_failures": a.engine.NoFailures()})
}

func (a *API) listEntities(c *gin.Context) {
	c.JSON(http.StatusOK, a.engine.Statuses())
}

func (a *API) getEntity(c *gin.Context) {
	st, ok := a.engine.Status(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (a *API) getFaults(c *gin.Context) {
	st, ok := a.engine.Status(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity"})
		return
	}
	c.JSON(http.StatusOK, st.Active)
}

func (a *API) getHistory(c *gin.Context) {
	if a.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not recorded"})
		return
	}
	name := c.Param("name")
	if _, ok := a.engine.Status(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity"})
		return
	}
	since, err := strconv.Atoi(c.DefaultQuery("since", "0"))
	if err != nil || since < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative sol"})
		return
	}

	ctx := c.Request.Context()
	h, err := a.history.RebuildEntityHistory(ctx, name)
	if err != nil {
		a.logger.Errorf("History for %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	recap, err := a.history.GenerateRecap(ctx, name, since)
	if err != nil {
		a.logger.Errorf("Recap for %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": h, "recap": recap})
}

func (a *API) listParts(c *gin.Context) {
	c.JSON(http.StatusOK, a.engine.PartStats())
}

func (a *API) demand(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"expected":   a.engine.FleetDemand(),
		"shortfalls": a.engine.Shortfalls(),
	})
}

func (a *API) setNoFailures(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	a.engine.SetNoFailures(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"no_failures": *req.Enabled})
}

func (a *API) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	client := NewClient(a.hub, conn)
	client.Register()
	go client.WritePump()
	go client.ReadPump()
}
