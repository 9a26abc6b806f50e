package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/wiperlink/internal/bus"
	"github.com/taoyao-code/wiperlink/internal/coordinator"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// BusStats 通道统计来源（*bus.Channel 实现）
type BusStats interface {
	Stats() bus.ChannelStats
}

// Handler 控制面 API 处理器
type Handler struct {
	coord  *coordinator.Coordinator
	bus    BusStats
	logger *zap.Logger
}

// NewHandler 创建处理器；bus 可为 nil
func NewHandler(coord *coordinator.Coordinator, bus BusStats, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, bus: bus, logger: logger}
}

// CommandRequest 手动命令
type CommandRequest struct {
	Group        string `json:"group" binding:"required"`
	Speed        string `json:"speed"`
	Cycles       int    `json:"cycles"`
	Intermittent bool   `json:"intermittent"`
	PeriodMS     int    `json:"period_ms"`
	Transport    string `json:"transport"`
}

// toCommand 文本字段转命令；枚举范围由 Command.Validate 兜底
func (r CommandRequest) toCommand() (wire.Command, bus.Transport, error) {
	var cmd wire.Command
	g, err := wire.ParseGroup(r.Group)
	if err != nil {
		return cmd, 0, err
	}
	sp, err := wire.ParseSpeed(r.Speed)
	if err != nil {
		return cmd, 0, err
	}
	if r.Cycles < 0 || r.Cycles > wire.MaxCycles {
		return cmd, 0, fmt.Errorf("%w: cycles %d out of range", wire.ErrInvalidCommand, r.Cycles)
	}
	if r.PeriodMS < 0 || r.PeriodMS > 0xFFFF {
		return cmd, 0, fmt.Errorf("%w: period_ms %d out of range", wire.ErrInvalidCommand, r.PeriodMS)
	}
	var t bus.Transport
	if r.Transport != "" {
		if t, err = bus.ParseTransport(r.Transport); err != nil {
			return cmd, 0, err
		}
	}
	cmd = wire.Command{
		Group:        g,
		Speed:        sp,
		Cycles:       uint8(r.Cycles),
		Intermittent: r.Intermittent,
		Period:       time.Duration(r.PeriodMS) * time.Millisecond,
	}
	return cmd, t, cmd.Validate()
}

// SubmitCommand 登记手动命令，由控制循环按到达顺序执行
// POST /api/commands
func (h *Handler) SubmitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	cmd, t, err := req.toCommand()
	if err != nil {
		h.fail(c, err)
		return
	}
	pc, err := h.coord.Submit(c.Request.Context(), t, cmd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, pc)
}

// ListCommands 查询命令记录
// GET /api/commands?state=pending&limit=50
func (h *Handler) ListCommands(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	state := coordinator.PendingState(c.Query("state"))
	list, err := h.coord.Pending().List(c.Request.Context(), state, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []*coordinator.PendingCommand{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": list})
}

// GetCommand 查询单条命令
// GET /api/commands/:id
func (h *Handler) GetCommand(c *gin.Context) {
	pc, err := h.coord.Pending().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pc)
}

// GetStatus 协调器快照与通道统计
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	resp := gin.H{"coordinator": h.coord.Snapshot()}
	if h.bus != nil {
		resp["bus"] = h.bus.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// ModeRequest 模式切换
type ModeRequest struct {
	Mode string `json:"mode" binding:"required,oneof=manual automatic"`
}

// SetMode 外部模式触发
// POST /api/mode
func (h *Handler) SetMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.coord.Trigger(c.Request.Context(), req.Mode == "automatic"); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": h.coord.Mode().String()})
}

// SetFaults 手动注入故障信号
// PUT /api/faults
func (h *Handler) SetFaults(c *gin.Context) {
	var f coordinator.Faults
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	h.coord.SetFaults(c.Request.Context(), f)
	c.JSON(http.StatusOK, h.coord.Status())
}

// fail 哨兵错误映射为 HTTP 状态码
func (h *Handler) fail(c *gin.Context, err error) {
	code, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, wire.ErrInvalidCommand), errors.Is(err, bus.ErrTransportUnavailable):
		code, kind = http.StatusBadRequest, "invalid_command"
	case errors.Is(err, coordinator.ErrPendingNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, coordinator.ErrSuperseded):
		code, kind = http.StatusConflict, "superseded"
	case errors.Is(err, coordinator.ErrModeDebounced):
		code, kind = http.StatusConflict, "debounced"
	case errors.Is(err, coordinator.ErrFailed),
		errors.Is(err, coordinator.ErrCancellationTimeout),
		errors.Is(err, coordinator.ErrStopNotConfirmed):
		code, kind = http.StatusServiceUnavailable, "failed"
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("api request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": kind, "message": err.Error()})
}
