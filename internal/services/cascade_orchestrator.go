package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/config"
	"homeheal/pkg/logger"
	"homeheal/pkg/smarthome"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 级联错误消息常量
const (
	ErrMsgAllLevelsFailed = "All healing levels failed"
	ErrMsgCascadeTimeout  = "Cascade execution timed out"
)

// CascadeOrchestrator 级联编排器：自愈决策引擎的顶层入口
// 路由优先级为 预案 -> 学习模式 -> 固定三级顺序级联，
// 每种路由实现为统一的 attempt，按顺序尝试并在第一个给出结果处停止
type CascadeOrchestrator struct {
	db                *gorm.DB
	client            smarthome.Client
	entityHealer      EntityLevelHealer
	deviceHealer      DeviceLevelHealer
	integrationHealer IntegrationLevelHealer
	patterns          *PatternService
	escalator         Escalator

	// 预案路由是可选的：matcher 和 executor 都注入时才启用
	matcher  *PlanMatcher
	executor *PlanExecutor

	patternThreshold   int
	planRoutingEnabled bool
}

// NewCascadeOrchestrator 创建级联编排器
func NewCascadeOrchestrator(
	db *gorm.DB,
	client smarthome.Client,
	entityHealer EntityLevelHealer,
	deviceHealer DeviceLevelHealer,
	integrationHealer IntegrationLevelHealer,
	patterns *PatternService,
	escalator Escalator,
	cfg *config.HealingConfig,
) *CascadeOrchestrator {
	return &CascadeOrchestrator{
		db:                 db,
		client:             client,
		entityHealer:       entityHealer,
		deviceHealer:       deviceHealer,
		integrationHealer:  integrationHealer,
		patterns:           patterns,
		escalator:          escalator,
		patternThreshold:   cfg.PatternMatchThreshold,
		planRoutingEnabled: true,
	}
}

// WithPlanEngine 注入预案匹配器和执行器，启用预案路由
func (o *CascadeOrchestrator) WithPlanEngine(matcher *PlanMatcher, executor *PlanExecutor) *CascadeOrchestrator {
	o.matcher = matcher
	o.executor = executor
	return o
}

// SetPlanRoutingEnabled 开关预案路由
func (o *CascadeOrchestrator) SetPlanRoutingEnabled(enabled bool) {
	o.planRoutingEnabled = enabled
}

// cascadeState 一次级联的共享可变状态
// 路由在独立goroutine中推进，超时路径读取快照，必须持锁访问
type cascadeState struct {
	mu            sync.Mutex
	levels        []models.HealingLevel
	entityResults map[string]bool
}

func newCascadeState() *cascadeState {
	return &cascadeState{entityResults: make(map[string]bool)}
}

func (s *cascadeState) markLevel(level models.HealingLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.levels {
		if l == level {
			return
		}
	}
	s.levels = append(s.levels, level)
}

func (s *cascadeState) setEntityResult(entityID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success || !s.entityResults[entityID] {
		s.entityResults[entityID] = success
	}
}

func (s *cascadeState) snapshot() ([]models.HealingLevel, map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	levels := make([]models.HealingLevel, len(s.levels))
	copy(levels, s.levels)
	results := make(map[string]bool, len(s.entityResults))
	for k, v := range s.entityResults {
		results[k] = v
	}
	return levels, results
}

// routingAttempt 单个路由策略：返回 nil 表示放弃，交给下一个策略
type routingAttempt struct {
	name string
	fn   func(ctx context.Context) *models.CascadeResult
}

// ExecuteCascade 执行一次完整的自愈级联
// 普通修复失败不会以异常形式返回，结果的 Success 和 ErrorMessage 表达最终结局
func (o *CascadeOrchestrator) ExecuteCascade(ctx context.Context, hctx *models.HealingContext, useIntelligentRouting bool) *models.CascadeResult {
	log := logger.GetLogger()
	start := time.Now()

	// 路由开始前创建审计记录
	audit := o.createAudit(hctx)

	var finalResult *models.CascadeResult
	defer func() {
		// 所有退出路径（含超时）都补全审计记录
		o.finalizeAudit(audit, finalResult, start)
	}()

	// 没有失败实体：不触发任何修复器，直接以空结果收尾
	if len(hctx.FailedEntities) == 0 {
		finalResult = &models.CascadeResult{
			RoutingStrategy: models.RoutingStrategySequential,
			LevelsAttempted: []models.HealingLevel{},
			EntityResults:   map[string]bool{},
			ErrorMessage:    "没有失败实体",
			TotalDuration:   time.Since(start),
		}
		return finalResult
	}

	state := newCascadeState()

	strategies := []routingAttempt{
		{name: models.RoutingStrategyPlan, fn: func(c context.Context) *models.CascadeResult {
			return o.attemptPlanRouting(c, hctx, audit, state)
		}},
		{name: models.RoutingStrategyIntelligent, fn: func(c context.Context) *models.CascadeResult {
			if !useIntelligentRouting {
				return nil
			}
			return o.attemptIntelligentRouting(c, hctx, audit, state)
		}},
		{name: models.RoutingStrategySequential, fn: func(c context.Context) *models.CascadeResult {
			return o.attemptSequential(c, hctx, audit, state)
		}},
	}

	routeCtx, cancel := context.WithTimeout(ctx, hctx.Timeout())
	defer cancel()

	resultCh := make(chan *models.CascadeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// 未处理的异常也转换为失败结果
				log.Errorf("级联执行异常: %v", r)
				levels, entityResults := state.snapshot()
				resultCh <- &models.CascadeResult{
					RoutingStrategy: models.RoutingStrategySequential,
					LevelsAttempted: levels,
					EntityResults:   entityResults,
					ErrorMessage:    fmt.Sprintf("级联执行异常: %v", r),
				}
			}
		}()
		for _, strategy := range strategies {
			if result := strategy.fn(routeCtx); result != nil {
				resultCh <- result
				return
			}
		}
		// 顺序级联必定给出结果，理论上到不了这里
		resultCh <- &models.CascadeResult{
			RoutingStrategy: models.RoutingStrategySequential,
			ErrorMessage:    ErrMsgAllLevelsFailed,
		}
	}()

	select {
	case result := <-resultCh:
		result.TotalDuration = time.Since(start)
		finalResult = result
	case <-routeCtx.Done():
		// 已发出的外呼不会在传输层被中止，可能在后台继续完成
		levels, entityResults := state.snapshot()
		finalResult = &models.CascadeResult{
			RoutingStrategy: models.RoutingStrategySequential,
			LevelsAttempted: levels,
			EntityResults:   entityResults,
			ErrorMessage:    ErrMsgCascadeTimeout,
			TotalDuration:   time.Since(start),
		}
	}

	if finalResult.Success {
		log.Infof("级联修复成功: instance=%s automation=%s strategy=%s level=%v",
			hctx.InstanceID, hctx.AutomationID, finalResult.RoutingStrategy, finalResult.SuccessfulLevel)
	} else {
		log.Warnf("级联修复失败: instance=%s automation=%s error=%s",
			hctx.InstanceID, hctx.AutomationID, finalResult.ErrorMessage)
	}
	return finalResult
}

// attemptPlanRouting 预案路由
// 匹配或执行过程中的任何错误都静默放弃，落回下一个策略
func (o *CascadeOrchestrator) attemptPlanRouting(ctx context.Context, hctx *models.HealingContext, audit *models.HealingCascadeExecution, state *cascadeState) (result *models.CascadeResult) {
	if o.matcher == nil || o.executor == nil || !o.planRoutingEnabled {
		return nil
	}

	log := logger.GetLogger()
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("预案路由异常，落回后续策略: %v", r)
			result = nil
		}
	}()

	integrationMap := o.entityIntegrationMap(ctx, hctx.FailedEntities)

	plan, err := o.matcher.FindMatchingPlan(hctx, integrationMap, hctx.TriggerType)
	if err != nil {
		log.Warnf("预案匹配失败，落回后续策略: %v", err)
		return nil
	}
	if plan == nil {
		return nil
	}

	o.updateAudit(audit, map[string]interface{}{
		"matched_plan_id": plan.ID,
	})

	planResult := o.executor.ExecutePlan(ctx, plan, hctx, &audit.ID)
	if !planResult.Success {
		log.Infof("预案 %s 执行失败，落回后续策略", plan.Doc.Name)
		return nil
	}

	// 记录预案执行触及的层级
	var successfulLevel *models.HealingLevel
	for _, step := range planResult.Steps {
		state.markLevel(step.Level)
		if planResult.SuccessfulStep != nil && step.StepName == *planResult.SuccessfulStep {
			level := step.Level
			successfulLevel = &level
		}
	}
	for entityID, ok := range planResult.EntityResults {
		state.setEntityResult(entityID, ok)
	}

	levels, entityResults := state.snapshot()
	strategy := fmt.Sprintf("plan:%s", plan.Doc.Name)
	return &models.CascadeResult{
		Success:            true,
		RoutingStrategy:    models.RoutingStrategyPlan,
		LevelsAttempted:    levels,
		SuccessfulLevel:    successfulLevel,
		SuccessfulStrategy: &strategy,
		EntityResults:      entityResults,
	}
}

// attemptIntelligentRouting 学习模式路由：只打一次已被证明有效的层级
func (o *CascadeOrchestrator) attemptIntelligentRouting(ctx context.Context, hctx *models.HealingContext, audit *models.HealingCascadeExecution, state *cascadeState) *models.CascadeResult {
	log := logger.GetLogger()

	pattern, err := o.patterns.FindBestPattern(hctx.InstanceID, hctx.AutomationID, o.patternThreshold)
	if err != nil {
		log.Warnf("查询修复模式失败，落回顺序级联: %v", err)
		return nil
	}
	if pattern == nil || pattern.SuccessfulHealingLevel == nil {
		return nil
	}

	level := models.HealingLevel(*pattern.SuccessfulHealingLevel)
	if !level.Valid() {
		return nil
	}

	o.updateAudit(audit, map[string]interface{}{
		"matched_pattern_id": pattern.ID,
	})

	log.Infof("智能路由命中模式 #%d: 直接执行 %s 级修复", pattern.ID, level)

	success, strategy := o.runLevel(ctx, level, hctx, audit, state)
	if !success {
		log.Infof("智能路由的 %s 级修复失败，落回顺序级联", level)
		return nil
	}

	if err := o.patterns.IncrementSuccess(pattern.ID); err != nil {
		log.WithError(err).Error("更新模式成功计数失败")
	}

	levels, entityResults := state.snapshot()
	patternID := pattern.ID
	return &models.CascadeResult{
		Success:            true,
		RoutingStrategy:    models.RoutingStrategyIntelligent,
		LevelsAttempted:    levels,
		SuccessfulLevel:    &level,
		SuccessfulStrategy: &strategy,
		EntityResults:      entityResults,
		MatchedPatternID:   &patternID,
	}
}

// attemptSequential 固定三级顺序级联，在第一个产生成功的层级停下
func (o *CascadeOrchestrator) attemptSequential(ctx context.Context, hctx *models.HealingContext, audit *models.HealingCascadeExecution, state *cascadeState) *models.CascadeResult {
	log := logger.GetLogger()

	for _, level := range models.CascadeLevels {
		if ctx.Err() != nil {
			break
		}
		success, strategy := o.runLevel(ctx, level, hctx, audit, state)
		if !success {
			continue
		}

		// 顺序级联成功后学习：以第一个失败实体为代表键记录模式
		if _, err := o.patterns.RecordSuccess(hctx.InstanceID, hctx.AutomationID,
			hctx.RepresentativeEntity(), level, strategy); err != nil {
			log.WithError(err).Error("记录修复模式失败")
		}

		levels, entityResults := state.snapshot()
		lvl := level
		strat := strategy
		return &models.CascadeResult{
			Success:            true,
			RoutingStrategy:    models.RoutingStrategySequential,
			LevelsAttempted:    levels,
			SuccessfulLevel:    &lvl,
			SuccessfulStrategy: &strat,
			EntityResults:      entityResults,
		}
	}

	// 超时中止不等于层级耗尽：被放弃的goroutine不发送升级通知
	if ctx.Err() != nil {
		levels, entityResults := state.snapshot()
		return &models.CascadeResult{
			Success:         false,
			RoutingStrategy: models.RoutingStrategySequential,
			LevelsAttempted: levels,
			EntityResults:   entityResults,
			ErrorMessage:    ErrMsgCascadeTimeout,
		}
	}

	// 三级全部失败：升级通知恰好发送一次
	if o.escalator != nil {
		if err := o.escalator.NotifyHealingFailure(hctx, ErrMsgAllLevelsFailed, len(models.CascadeLevels)); err != nil {
			log.WithError(err).Error("发送升级通知失败")
		}
	}

	levels, entityResults := state.snapshot()
	return &models.CascadeResult{
		Success:         false,
		RoutingStrategy: models.RoutingStrategySequential,
		LevelsAttempted: levels,
		EntityResults:   entityResults,
		ErrorMessage:    ErrMsgAllLevelsFailed,
	}
}

// runLevel 执行单个层级的修复，顺序级联和智能路由共用同一条调用路径
// 返回该层级是否成功以及成功的策略标签
func (o *CascadeOrchestrator) runLevel(ctx context.Context, level models.HealingLevel, hctx *models.HealingContext, audit *models.HealingCascadeExecution, state *cascadeState) (bool, string) {
	state.markLevel(level)
	o.markLevelAttempted(audit, level)

	var success bool
	var strategy string

	switch level {
	case models.LevelEntity:
		success, strategy = o.runEntityLevel(ctx, hctx, audit, state)
	case models.LevelDevice:
		success, strategy = o.runDeviceLevel(ctx, hctx, audit, state)
	case models.LevelIntegration:
		success, strategy = o.runIntegrationLevel(ctx, hctx, state)
	}

	if success {
		o.markLevelSuccess(audit, level)
	}
	return success, strategy
}

// runEntityLevel L1：逐实体修复，任一成功即层级成功
func (o *CascadeOrchestrator) runEntityLevel(ctx context.Context, hctx *models.HealingContext, audit *models.HealingCascadeExecution, state *cascadeState) (bool, string) {
	success := false
	strategy := ""
	for _, entityID := range hctx.FailedEntities {
		if ctx.Err() != nil {
			break
		}
		res := o.entityHealer.Heal(ctx, entityID, "cascade", hctx.AutomationID, &audit.ID)
		state.setEntityResult(entityID, res.Success)
		if res.Success && !success {
			success = true
			if res.FinalAction != nil {
				strategy = *res.FinalAction
			}
		}
	}
	if strategy == "" {
		strategy = ActionRetryServiceCall
	}
	return success, strategy
}

// runDeviceLevel L2：整组实体交给设备修复器
func (o *CascadeOrchestrator) runDeviceLevel(ctx context.Context, hctx *models.HealingContext, audit *models.HealingCascadeExecution, state *cascadeState) (bool, string) {
	res := o.deviceHealer.Heal(ctx, hctx.FailedEntities, "cascade", hctx.AutomationID, &audit.ID)
	for _, entityID := range res.HealedEntities {
		state.setEntityResult(entityID, true)
	}
	for _, entityID := range hctx.FailedEntities {
		state.setEntityResult(entityID, res.Success && contains(res.HealedEntities, entityID))
	}
	strategy := "device_healing"
	if res.FinalAction != nil {
		strategy = *res.FinalAction
	}
	return res.Success, strategy
}

// runIntegrationLevel L3：逐实体走集成修复器，单实体的异常视为局部失败并继续
func (o *CascadeOrchestrator) runIntegrationLevel(ctx context.Context, hctx *models.HealingContext, state *cascadeState) (bool, string) {
	log := logger.GetLogger()
	integrationMap := o.entityIntegrationMap(ctx, hctx.FailedEntities)
	configEntryMap := o.entityConfigEntryMap(ctx, hctx.FailedEntities)

	success := false
	for _, entityID := range hctx.FailedEntities {
		if ctx.Err() != nil {
			break
		}
		issue := &models.HealthIssue{
			EntityID:          entityID,
			IntegrationDomain: integrationMap[entityID],
			ConfigEntryID:     configEntryMap[entityID],
			IssueType:         hctx.TriggerType,
			Message:           fmt.Sprintf("automation %s failed", hctx.AutomationID),
		}
		healed, err := o.integrationHealer.Heal(ctx, issue)
		if err != nil {
			log.Debugf("L3修复实体 %s 失败: %v", entityID, err)
			state.setEntityResult(entityID, false)
			continue
		}
		state.setEntityResult(entityID, healed)
		if healed {
			success = true
		}
	}
	return success, "reload_integration"
}

// entityIntegrationMap 实体 -> 集成域映射，注册表不可用时返回 nil
func (o *CascadeOrchestrator) entityIntegrationMap(ctx context.Context, entityIDs []string) map[string]string {
	if o.client == nil {
		return nil
	}
	entries, err := o.client.ListEntityRegistry(ctx)
	if err != nil {
		logger.GetLogger().Debugf("拉取实体注册表失败: %v", err)
		return nil
	}
	result := make(map[string]string, len(entityIDs))
	for _, entry := range entries {
		for _, entityID := range entityIDs {
			if entry.EntityID == entityID && entry.Platform != "" {
				result[entityID] = entry.Platform
			}
		}
	}
	return result
}

// entityConfigEntryMap 实体 -> 配置项ID映射
func (o *CascadeOrchestrator) entityConfigEntryMap(ctx context.Context, entityIDs []string) map[string]string {
	result := make(map[string]string, len(entityIDs))
	if o.client == nil {
		return result
	}
	entries, err := o.client.ListEntityRegistry(ctx)
	if err != nil {
		return result
	}
	for _, entry := range entries {
		for _, entityID := range entityIDs {
			if entry.EntityID == entityID && entry.ConfigEntryID != "" {
				result[entityID] = entry.ConfigEntryID
			}
		}
	}
	return result
}

// ========== 审计记录 ==========

// createAudit 路由开始前创建审计行
func (o *CascadeOrchestrator) createAudit(hctx *models.HealingContext) *models.HealingCascadeExecution {
	entitiesJSON, _ := json.Marshal(hctx.FailedEntities)
	audit := &models.HealingCascadeExecution{
		ExecutionID:     uuid.New().String(),
		InstanceID:      hctx.InstanceID,
		AutomationID:    hctx.AutomationID,
		TriggerType:     hctx.TriggerType,
		FailedEntities:  entitiesJSON,
		RoutingStrategy: models.RoutingStrategySequential,
		StartedAt:       time.Now(),
	}
	if err := o.db.Create(audit).Error; err != nil {
		logger.GetLogger().WithError(err).Error("创建级联审计记录失败")
	}
	return audit
}

func (o *CascadeOrchestrator) updateAudit(audit *models.HealingCascadeExecution, updates map[string]interface{}) {
	if audit.ID == 0 {
		return
	}
	if err := o.db.Model(audit).Updates(updates).Error; err != nil {
		logger.GetLogger().WithError(err).Error("更新级联审计记录失败")
	}
}

func (o *CascadeOrchestrator) markLevelAttempted(audit *models.HealingCascadeExecution, level models.HealingLevel) {
	o.updateAudit(audit, map[string]interface{}{
		fmt.Sprintf("%s_level_attempted", level): true,
	})
}

func (o *CascadeOrchestrator) markLevelSuccess(audit *models.HealingCascadeExecution, level models.HealingLevel) {
	o.updateAudit(audit, map[string]interface{}{
		fmt.Sprintf("%s_level_success", level): true,
	})
}

// finalizeAudit 补全审计记录，持久化失败只记录日志，不影响级联结果
func (o *CascadeOrchestrator) finalizeAudit(audit *models.HealingCascadeExecution, result *models.CascadeResult, start time.Time) {
	if audit.ID == 0 {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"completed_at": now,
		"duration_ms":  time.Since(start).Milliseconds(),
	}
	if result != nil {
		updates["success"] = result.Success
		updates["routing_strategy"] = result.RoutingStrategy
		updates["error_message"] = result.ErrorMessage
		if result.SuccessfulLevel != nil {
			levelStr := string(*result.SuccessfulLevel)
			updates["successful_level"] = levelStr
		}
		if result.SuccessfulStrategy != nil {
			updates["successful_strategy"] = *result.SuccessfulStrategy
		}
		if result.MatchedPatternID != nil {
			updates["matched_pattern_id"] = *result.MatchedPatternID
		}
		if entityJSON, err := json.Marshal(result.EntityResults); err == nil {
			updates["entity_results"] = models.JSON(entityJSON)
		}
	}
	if err := o.db.Model(audit).Updates(updates).Error; err != nil {
		logger.GetLogger().WithError(err).Error("补全级联审计记录失败")
	}
}
