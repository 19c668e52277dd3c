package handlers

import (
	"homeheal/internal/models"
	"homeheal/internal/services"
	"homeheal/pkg/pagination"
	"homeheal/pkg/response"

	"github.com/gin-gonic/gin"
)

// CascadeHandler 级联执行处理器
type CascadeHandler struct {
	orchestrator     *services.CascadeOrchestrator
	executionService *services.CascadeExecutionService
}

// NewCascadeHandler 创建级联处理器
func NewCascadeHandler(orchestrator *services.CascadeOrchestrator, executionService *services.CascadeExecutionService) *CascadeHandler {
	return &CascadeHandler{
		orchestrator:     orchestrator,
		executionService: executionService,
	}
}

// TriggerRequest 手动触发级联请求
type TriggerRequest struct {
	InstanceID            string   `json:"instance_id" binding:"required"`
	AutomationID          string   `json:"automation_id" binding:"required"`
	ExecutionID           *string  `json:"execution_id"`
	TriggerType           string   `json:"trigger_type" binding:"required,oneof=trigger_failure outcome_failure"`
	FailedEntities        []string `json:"failed_entities"`
	TimeoutSeconds        float64  `json:"timeout_seconds"`
	UseIntelligentRouting *bool    `json:"use_intelligent_routing"`
}

// Trigger 手动触发一次自愈级联（同步执行并返回结果）
func (h *CascadeHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	hctx := models.NewHealingContext(req.InstanceID, req.AutomationID, req.TriggerType, req.FailedEntities)
	hctx.ExecutionID = req.ExecutionID
	if req.TimeoutSeconds > 0 {
		hctx.TimeoutSeconds = req.TimeoutSeconds
	}

	useIntelligent := true
	if req.UseIntelligentRouting != nil {
		useIntelligent = *req.UseIntelligentRouting
	}

	result := h.orchestrator.ExecuteCascade(c.Request.Context(), hctx, useIntelligent)
	response.Success(c, result)
}

// List 分页查询级联执行记录
func (h *CascadeHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	var success *bool
	switch c.Query("success") {
	case "true":
		v := true
		success = &v
	case "false":
		v := false
		success = &v
	}

	executions, total, err := h.executionService.List(
		c.Query("instance_id"), c.Query("automation_id"), success,
		params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.SuccessWithPage(c, executions, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Get 查询单条级联执行详情（含修复动作日志）
func (h *CascadeHandler) Get(c *gin.Context) {
	execution, err := h.executionService.GetByExecutionID(c.Param("execution_id"))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	logs, err := h.executionService.GetActionLogs(execution.ID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"execution":   execution,
		"action_logs": logs,
	})
}
