// Package apihttp exposes strategy CRUD over HTTP.
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"helmsman/internal/fault"
	"helmsman/internal/service"
	"helmsman/internal/strategy"
)

// StrategyAdmin is the manager-side surface: lifecycle actions must go
// through the manager so its in-memory registry stays in step with the
// store.
type StrategyAdmin interface {
	Register(st *strategy.Strategy)
	Cancel(ctx context.Context, id string) (*strategy.Strategy, error)
	Resume(ctx context.Context, id string) (*strategy.Strategy, error)
	Size() int
}

type Router struct {
	svc   *service.Service
	admin StrategyAdmin
}

func NewRouter(svc *service.Service, admin StrategyAdmin) *Router {
	return &Router{svc: svc, admin: admin}
}

// Register mounts the strategy API under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/strategies", r.handleCreate)
	group.GET("/strategies", r.handleList)
	group.GET("/strategies/:id", r.handleGet)
	group.POST("/strategies/:id/cancel", r.handleCancel)
	group.POST("/strategies/:id/resume", r.handleResume)
	group.GET("/strategies/:id/orders", r.handleOrders)
	group.GET("/strategies/:id/events", r.handleEvents)
}

type createRequest struct {
	Name          string         `json:"name" binding:"required"`
	Kind          string         `json:"kind" binding:"required"`
	Symbol        string         `json:"symbol" binding:"required"`
	Config        map[string]any `json:"config" binding:"required"`
	CheckInterval string         `json:"check_interval,omitempty"`
}

type strategyResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Symbol        string          `json:"symbol"`
	State         string          `json:"state"`
	Health        strategy.Health `json:"health"`
	Config        map[string]any  `json:"config,omitempty"`
	CheckInterval string          `json:"check_interval,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toResponse(st *strategy.Strategy) strategyResponse {
	resp := strategyResponse{
		ID:        st.ID,
		Name:      st.Name,
		Kind:      string(st.Kind),
		Symbol:    st.Symbol,
		State:     string(st.State),
		Health:    st.Health,
		Config:    st.RawConfig,
		CreatedAt: st.CreatedAt,
	}
	if st.CheckInterval > 0 {
		resp.CheckInterval = st.CheckInterval.String()
	}
	return resp
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var interval time.Duration
	if req.CheckInterval != "" {
		var err error
		interval, err = time.ParseDuration(req.CheckInterval)
		if err != nil || interval < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "check_interval: invalid duration"})
			return
		}
	}
	st, err := r.svc.Create(c.Request.Context(), service.CreateRequest{
		Name:          req.Name,
		Kind:          req.Kind,
		Symbol:        req.Symbol,
		Config:        req.Config,
		CheckInterval: interval,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	r.admin.Register(st)
	c.JSON(http.StatusCreated, toResponse(st))
}

func (r *Router) handleList(c *gin.Context) {
	list, err := r.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]strategyResponse, 0, len(list))
	for _, st := range list {
		out = append(out, toResponse(st))
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (r *Router) handleGet(c *gin.Context) {
	st, err := r.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(st))
}

func (r *Router) handleCancel(c *gin.Context) {
	st, err := r.admin.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(st))
}

func (r *Router) handleResume(c *gin.Context) {
	st, err := r.admin.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(st))
}

func (r *Router) handleOrders(c *gin.Context) {
	orders, err := r.svc.Orders(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := r.svc.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// writeError maps service errors to HTTP statuses. Validation faults carry
// the failed field in the message.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
	case errors.Is(err, service.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "strategy name already exists"})
	case fault.KindOf(err) == fault.ConfigValidation:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"kind":  string(fault.ConfigValidation),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
