package handlers

import (
	"strconv"

	"homeheal/internal/services"
	"homeheal/pkg/pagination"
	"homeheal/pkg/response"

	"github.com/gin-gonic/gin"
)

// HealingPlanHandler 预案处理器
type HealingPlanHandler struct {
	planService *services.HealingPlanService
	planLoader  *services.PlanLoader
}

// NewHealingPlanHandler 创建预案处理器
func NewHealingPlanHandler(planService *services.HealingPlanService, planLoader *services.PlanLoader) *HealingPlanHandler {
	return &HealingPlanHandler{
		planService: planService,
		planLoader:  planLoader,
	}
}

// List 分页列出预案
func (h *HealingPlanHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	enabledOnly := c.Query("enabled") == "true"

	plans, total, err := h.planService.List(enabledOnly, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.SuccessWithPage(c, plans, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Get 查询单个预案
func (h *HealingPlanHandler) Get(c *gin.Context) {
	planID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的预案ID")
		return
	}

	plan, err := h.planService.Get(uint(planID))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, plan)
}

// Enable 启用预案
func (h *HealingPlanHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable 禁用预案
func (h *HealingPlanHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *HealingPlanHandler) setEnabled(c *gin.Context, enabled bool) {
	planID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的预案ID")
		return
	}

	plan, err := h.planService.SetEnabled(uint(planID), enabled)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, plan)
}

// Reload 立即重新加载预案目录
func (h *HealingPlanHandler) Reload(c *gin.Context) {
	loaded, failed := h.planLoader.LoadAll()
	response.Success(c, gin.H{
		"loaded": loaded,
		"failed": failed,
	})
}
