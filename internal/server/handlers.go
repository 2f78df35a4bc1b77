package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aman-zulfiqar/evm-swap-listener/internal/metrics"
	"github.com/aman-zulfiqar/evm-swap-listener/internal/models"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// PairSource is the read side of the listener manager
type PairSource interface {
	Active() []models.TrackedPair
	Ordering(pair string) (int, bool)
	Len() int
}

// Pinger checks a backing connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Pairs   PairSource       // Listener manager
	Bus     Pinger           // Message bus, optional
	Metrics *metrics.Metrics // Prometheus collectors, optional
	DevMode bool             // Enable detailed error responses in development
	Logger  *logrus.Logger   // Structured logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// Health pings the bus and reports the active pair count. An unreachable
// bus yields 503 so orchestrators can restart the process.
func (h *Handlers) Health(c echo.Context) error {
	resp := HealthResponse{OK: true, Bus: "disabled"}
	if h.Pairs != nil {
		resp.ActivePairs = h.Pairs.Len()
	}
	if h.Bus == nil {
		return c.JSON(http.StatusOK, resp)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.Bus.Ping(ctx); err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).Warn("health check: bus ping failed")
		}
		resp.OK = false
		resp.Bus = "unreachable"
		if h.DevMode {
			return c.JSON(http.StatusServiceUnavailable, struct {
				HealthResponse
				Details any `json:"details"`
			}{resp, describe(err)})
		}
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	resp.Bus = "ok"
	return c.JSON(http.StatusOK, resp)
}

// ListPairs returns every active pair with its meme token slot
func (h *Handlers) ListPairs(c echo.Context) error {
	if h.Pairs == nil {
		return h.err(c, http.StatusServiceUnavailable, "listener is not running", nil)
	}

	items := lo.Map(h.Pairs.Active(), func(p models.TrackedPair, _ int) PairStatus {
		ordering, _ := h.Pairs.Ordering(p.Pair)
		return toStatus(p, ordering)
	})
	return c.JSON(http.StatusOK, PairsResponse{Count: len(items), Items: items})
}

// GetPair returns one active pair by address
func (h *Handlers) GetPair(c echo.Context) error {
	if h.Pairs == nil {
		return h.err(c, http.StatusServiceUnavailable, "listener is not running", nil)
	}
	want := c.Param("pair")
	ordering, ok := h.Pairs.Ordering(want)
	if !ok {
		return h.err(c, http.StatusNotFound, "pair not found", map[string]any{"pair": want})
	}
	p, found := lo.Find(h.Pairs.Active(), func(p models.TrackedPair) bool {
		return strings.EqualFold(p.Pair, want)
	})
	if !found {
		return h.err(c, http.StatusNotFound, "pair not found", map[string]any{"pair": want})
	}
	return c.JSON(http.StatusOK, toStatus(p, ordering))
}

func toStatus(p models.TrackedPair, ordering int) PairStatus {
	return PairStatus{
		Pair:              p.Pair,
		MemeTokenAddress:  p.MemeTokenAddress,
		BaseTokenAddress:  p.BaseTokenAddress,
		MemeTokenDecimals: p.MemeTokenDecimals,
		BaseTokenDecimals: p.BaseTokenDecimals,
		LastBoughtAt:      p.LastBoughtAt,
		Ordering:          ordering,
	}
}
