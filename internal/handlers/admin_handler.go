package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

// Runner is satisfied by *scheduler.Scheduler.
type Runner interface {
	RunSweep(ctx context.Context) (*services.SweepReport, error)
	RunReap(ctx context.Context) (*services.ReapReport, error)
}

// AdminHandler 按需触发 sweep / reap
type AdminHandler struct {
	runner Runner
	logger *logger.Logger
}

func NewAdminHandler(runner Runner, log *logger.Logger) *AdminHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AdminHandler{runner: runner, logger: log}
}

// Sweep 立即执行一轮 sweep，返回本轮报告
func (h *AdminHandler) Sweep(c *gin.Context) {
	report, err := h.runner.RunSweep(c.Request.Context())
	if err != nil {
		fail(c, h.logger, "sweep", err)
		return
	}
	success(c, http.StatusOK, report)
}

// Reap 立即执行一轮 reap
func (h *AdminHandler) Reap(c *gin.Context) {
	report, err := h.runner.RunReap(c.Request.Context())
	if err != nil {
		fail(c, h.logger, "reap", err)
		return
	}
	success(c, http.StatusOK, report)
}
