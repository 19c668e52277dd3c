package handlers

import (
	"strconv"

	"homeheal/internal/services"
	"homeheal/pkg/pagination"
	"homeheal/pkg/response"

	"github.com/gin-gonic/gin"
)

// PatternHandler 学习模式处理器
type PatternHandler struct {
	patternService *services.PatternService
}

// NewPatternHandler 创建模式处理器
func NewPatternHandler(patternService *services.PatternService) *PatternHandler {
	return &PatternHandler{patternService: patternService}
}

// List 分页列出学习到的修复模式
func (h *PatternHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	patterns, total, err := h.patternService.List(c.Query("instance_id"), params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.SuccessWithPage(c, patterns, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Delete 删除（遗忘）一条模式
func (h *PatternHandler) Delete(c *gin.Context) {
	patternID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "无效的模式ID")
		return
	}

	if err := h.patternService.Delete(uint(patternID)); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "模式已删除", nil)
}
