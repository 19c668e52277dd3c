package services

import (
	"path"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/logger"
)

// PlanMatcher 预案匹配器
// 按优先级降序遍历启用的预案，返回第一个所有已指定条件都命中的预案
type PlanMatcher struct {
	loader *PlanLoader
	now    func() time.Time // 时间窗口判定用，测试中可替换
}

// NewPlanMatcher 创建预案匹配器
func NewPlanMatcher(loader *PlanLoader) *PlanMatcher {
	return &PlanMatcher{
		loader: loader,
		now:    time.Now,
	}
}

// FindMatchingPlan 为故障上下文挑选预案
// entityIntegrationMap 为 nil 时完全跳过集成域条件检查；没有任何预案命中返回 nil
func (m *PlanMatcher) FindMatchingPlan(hctx *models.HealingContext, entityIntegrationMap map[string]string, failureType string) (*RuntimePlan, error) {
	plans, err := m.loader.GetAllEnabledPlans()
	if err != nil {
		return nil, err
	}

	for i := range plans {
		plan := &plans[i]
		if m.matches(&plan.Doc.Match, hctx, entityIntegrationMap, failureType) {
			logger.GetLogger().Infof("故障 %s/%s 命中预案 %s (优先级 %d)",
				hctx.InstanceID, hctx.AutomationID, plan.Doc.Name, plan.Doc.Priority)
			return plan, nil
		}
	}
	return nil, nil
}

// matches 判断所有已指定（非空）的条件是否全部命中，留空的条件视为"不限"
func (m *PlanMatcher) matches(criteria *models.MatchCriteria, hctx *models.HealingContext, entityIntegrationMap map[string]string, failureType string) bool {
	// 实体glob：至少一个失败实体命中至少一个模式（区分大小写的shell glob）
	if len(criteria.EntityPatterns) > 0 {
		if !m.anyEntityMatches(criteria.EntityPatterns, hctx.FailedEntities) {
			return false
		}
	}

	// 集成域：未提供映射时整个条件跳过
	if len(criteria.IntegrationDomains) > 0 && entityIntegrationMap != nil {
		if !m.anyIntegrationMatches(criteria.IntegrationDomains, hctx.FailedEntities, entityIntegrationMap) {
			return false
		}
	}

	// 故障类型
	if len(criteria.FailureTypes) > 0 {
		if !contains(criteria.FailureTypes, failureType) {
			return false
		}
	}

	// 时间窗口：本地小时落在 [start, end)
	if criteria.TimeWindow != nil {
		if !criteria.TimeWindow.Contains(m.now().Hour()) {
			return false
		}
	}

	return true
}

func (m *PlanMatcher) anyEntityMatches(patterns, entities []string) bool {
	for _, entity := range entities {
		for _, pattern := range patterns {
			if ok, err := path.Match(pattern, entity); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func (m *PlanMatcher) anyIntegrationMatches(domains, entities []string, entityIntegrationMap map[string]string) bool {
	for _, entity := range entities {
		domain, ok := entityIntegrationMap[entity]
		if !ok {
			continue
		}
		if contains(domains, domain) {
			return true
		}
	}
	return false
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
