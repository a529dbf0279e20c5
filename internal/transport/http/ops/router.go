package opshttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sentinel/internal/engine"
	"sentinel/internal/rule"
)

// RuleDirectory lists loaded rules, quarantined ones included.
type RuleDirectory interface {
	ListRules(ctx context.Context) ([]*rule.Rule, error)
}

// EngineControl is the scheduler surface the API needs: reload and dry-run.
type EngineControl interface {
	ReloadNow()
	Simulate(ctx context.Context, ruleID string) (*engine.EvalReport, error)
}

// TriggerLog reads the persisted trigger history.
type TriggerLog interface {
	ListRecent(ctx context.Context, ruleID string, limit int) ([]rule.TriggerRecord, error)
}

type Router struct {
	rules    RuleDirectory
	engine   EngineControl
	triggers TriggerLog
}

func NewRouter(rules RuleDirectory, eng EngineControl, triggers TriggerLog) *Router {
	return &Router{rules: rules, engine: eng, triggers: triggers}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/rules", r.handleListRules)
	group.POST("/rules/reload", r.handleReload)
	group.POST("/rules/:id/simulate", r.handleSimulate)
	if r.triggers != nil {
		group.GET("/triggers", r.handleListTriggers)
	}
}

type ruleView struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Status      string     `json:"status"`
	StatusCause string     `json:"status_cause,omitempty"`
	Conditions  int        `json:"conditions"`
	Stats       rule.Stats `json:"stats"`
}

func (r *Router) handleListRules(c *gin.Context) {
	rules, err := r.rules.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]ruleView, 0, len(rules))
	for _, item := range rules {
		views = append(views, ruleView{
			ID:          item.ID,
			Owner:       item.Owner,
			Name:        item.Name,
			Schedule:    item.Schedule,
			Status:      string(item.Status),
			StatusCause: item.StatusCause,
			Conditions:  len(item.Conditions),
			Stats:       item.StatsSnapshot(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rules": views, "count": len(views)})
}

func (r *Router) handleReload(c *gin.Context) {
	r.engine.ReloadNow()
	c.JSON(http.StatusAccepted, gin.H{"status": "reload requested"})
}

// handleSimulate runs the full evaluation pipeline for one rule without
// firing triggers or notifications.
func (r *Router) handleSimulate(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	report, err := r.engine.Simulate(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleListTriggers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := r.triggers.ListRecent(c.Request.Context(), strings.TrimSpace(c.Query("rule_id")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": records, "count": len(records)})
}
