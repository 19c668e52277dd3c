package handlers

import (
	"time"

	"homeheal/internal/services"
	"homeheal/pkg/response"

	"github.com/gin-gonic/gin"
)

// IntegrationHandler 集成健康状态处理器
type IntegrationHandler struct {
	healthService *services.IntegrationHealthService
}

// NewIntegrationHandler 创建集成处理器
func NewIntegrationHandler(healthService *services.IntegrationHealthService) *IntegrationHandler {
	return &IntegrationHandler{healthService: healthService}
}

// List 列出所有集成的健康状态（含熔断信息）
func (h *IntegrationHandler) List(c *gin.Context) {
	healths, err := h.healthService.List()
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, healths)
}

// ResetBreaker 手动清除指定集成的熔断状态
func (h *IntegrationHandler) ResetBreaker(c *gin.Context) {
	domain := c.Param("domain")
	if domain == "" {
		response.BadRequest(c, "集成域不能为空")
		return
	}

	if err := h.healthService.ResetBreaker(domain); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "熔断状态已清除", nil)
}

// SuppressRequest 抑制实体自愈请求
type SuppressRequest struct {
	EntityID        string     `json:"entity_id" binding:"required"`
	Reason          string     `json:"reason" binding:"max=500"`
	SuppressedUntil *time.Time `json:"suppressed_until"`
}

// Suppress 抑制实体自愈
func (h *IntegrationHandler) Suppress(c *gin.Context) {
	var req SuppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.healthService.Suppress(req.EntityID, req.Reason, req.SuppressedUntil); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "实体已抑制自愈", nil)
}

// Unsuppress 解除实体的自愈抑制
func (h *IntegrationHandler) Unsuppress(c *gin.Context) {
	entityID := c.Param("entity_id")
	if entityID == "" {
		response.BadRequest(c, "实体ID不能为空")
		return
	}

	if err := h.healthService.Unsuppress(entityID); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "已解除抑制", nil)
}
