package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/connector"
	"github.com/ceyewan/fieldops/idempotency"
)

// healthz GET /healthz，逐个探测连接器
func (a *App) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for _, conn := range a.connectors() {
		if err := conn.HealthCheck(ctx); err != nil {
			healthy = false
			checks[conn.Name()] = err.Error()
			continue
		}
		checks[conn.Name()] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func (a *App) connectors() []connector.Connector {
	var conns []connector.Connector
	if a.dbConn != nil {
		conns = append(conns, a.dbConn)
	}
	if a.redisConn != nil {
		conns = append(conns, a.redisConn)
	}
	return conns
}

type unstickRequest struct {
	Key   string `json:"key" binding:"required"`
	Scope string `json:"scope" binding:"required"`
}

// unstick POST /admin/idempotency/unstick
//
// 崩溃遗留的 processing 记录在未启用租约时会一直返回 in-progress，
// 运维确认原请求已不再执行后调用本接口，下一次重试即可重新执行。
func (a *App) unstick(c *gin.Context) {
	var req unstickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, "VALIDATION_FAILED", "key and scope are required")
		return
	}

	released, err := a.idem.Unstick(c.Request.Context(), req.Key, req.Scope)
	if err != nil {
		a.logger.ErrorContext(c.Request.Context(), "unstick failed", clog.Error(err))
		abortJSON(c, http.StatusServiceUnavailable, idempotency.CodeStoreUnavailable, "idempotency store unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}
