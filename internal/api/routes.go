package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/mixcore/internal/db"
	"github.com/rawblock/mixcore/internal/mixconfig"
	"github.com/rawblock/mixcore/internal/mixer"
)

// eventJSON marshals a mixer.Event for the websocket stream GET /mixing/ws
// promises (spec §8).
func eventJSON(ev mixer.Event) ([]byte, error) {
	return json.Marshal(struct {
		State   string `json:"state"`
		Message string `json:"message,omitempty"`
		Time    string `json:"time"`
	}{
		State:   ev.State.String(),
		Message: ev.Message,
		Time:    ev.Time.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// APIHandler serves the mixing control-and-status surface spec §6/SPEC_FULL
// §8 names: start/stop/status/config plus a websocket event stream,
// adapted from the teacher's forensics APIHandler (same Gin router shape,
// same CORS/auth/rate-limit middleware stack, different domain).
type APIHandler struct {
	manager *mixer.Manager
	dbStore *db.PostgresStore
	wsHub   *Hub

	maxMixRounds int
}

// SetupRouter builds the Gin engine serving /mixing/*, wiring manager's
// Subscribe hook into wsHub so every state transition/event reaches
// connected websocket clients (spec §6 supplemented feature:
// axe_ps.py's round-count-change callbacks, routed to the hub instead of
// a GUI).
func SetupRouter(manager *mixer.Manager, dbStore *db.PostgresStore, wsHub *Hub, maxMixRounds int) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		manager:      manager,
		dbStore:      dbStore,
		wsHub:        wsHub,
		maxMixRounds: maxMixRounds,
	}

	if wsHub != nil && manager != nil {
		manager.Subscribe(func(ev mixer.Event) {
			payload, err := eventJSON(ev)
			if err == nil {
				wsHub.Broadcast(payload)
			}
		})
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/mixing/status", handler.handleMixingStatus)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/mixing/start", handler.handleMixingStart)
		auth.POST("/mixing/stop", handler.handleMixingStop)
		auth.GET("/mixing/config", handler.handleGetMixingConfig)
		auth.PUT("/mixing/config", handler.handleSetMixingConfig)
		auth.GET("/mixing/ws", wsHub.Subscribe)
	}

	return r
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "mixcore",
		"dbConnected": h.dbStore != nil,
	})
}

// handleMixingStatus implements GET /mixing/status.
func (h *APIHandler) handleMixingStatus(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mixing manager not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.manager.Status(c.Request.Context()))
}

// handleMixingStart implements POST /mixing/start, returning one of the
// fixed-catalog error strings on failure or "OK" (spec §6).
func (h *APIHandler) handleMixingStart(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": mixer.ErrNotEnabled.Error()})
		return
	}
	if err := h.manager.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": fixedCatalogString(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": "OK"})
}

// handleMixingStop implements POST /mixing/stop. Stop is unconditionally
// safe to call (a no-op outside Mixing/StartMixing), so it always returns
// "OK".
func (h *APIHandler) handleMixingStop(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": mixer.ErrNotEnabled.Error()})
		return
	}
	h.manager.Stop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"result": "OK"})
}

// handleGetMixingConfig implements GET /mixing/config.
func (h *APIHandler) handleGetMixingConfig(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mixing manager not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.manager.Status(c.Request.Context()))
}

// handleSetMixingConfig implements PUT /mixing/config, clamping the
// incoming body through mixconfig.Config.Normalize before applying it
// (spec §4.8).
func (h *APIHandler) handleSetMixingConfig(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mixing manager not initialized"})
		return
	}
	var cfg mixconfig.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config body"})
		return
	}
	h.manager.SetConfig(cfg, h.maxMixRounds)
	c.JSON(http.StatusOK, gin.H{"result": "OK"})
}

// fixedCatalogString maps a mixer sentinel error to its wire-level string
// from spec §6's fixed catalog.
func fixedCatalogString(err error) string {
	catalog := []error{
		mixer.ErrNotEnabled, mixer.ErrInitializing, mixer.ErrAlreadyRunning,
		mixer.ErrFindUntrackedRun, mixer.ErrErrored, mixer.ErrNoNetwork,
		mixer.ErrNoP2P, mixer.ErrLLMQDataNotReady, mixer.ErrMNSDataNotReady,
		mixer.ErrWatchingOnly, mixer.ErrAllMixed, mixer.ErrUnknownStateForOp,
	}
	for _, sentinel := range catalog {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
