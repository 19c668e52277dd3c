package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/config"
	apperrors "homeheal/pkg/errors"
	"homeheal/pkg/logger"
	"homeheal/pkg/smarthome"

	"gorm.io/gorm"
)

// IntegrationLevelHealer L3修复器接口
type IntegrationLevelHealer interface {
	Heal(ctx context.Context, issue *models.HealthIssue) (bool, error)
	CanHeal(entityID string) error
}

// IntegrationHealer 集成级修复器（L3），即 HealingManager
// 重载整个集成，受抑制名单、熔断器和冷却窗口三重保护；
// 保护状态以集成域为粒度，对该集成的所有调用方共享
type IntegrationHealer struct {
	db     *gorm.DB
	client smarthome.Client

	cooldown         time.Duration
	breakerThreshold int
	breakerReset     time.Duration
	dryRun           bool

	// 冷却检查基于内存中的最近尝试时间，进程重启后丢失（只有熔断时间戳持久化）
	mu          sync.Mutex
	lastAttempt map[string]time.Time
	attemptSeq  map[string]int
}

// NewIntegrationHealer 创建集成级修复器
func NewIntegrationHealer(db *gorm.DB, client smarthome.Client, cfg *config.HealingConfig) *IntegrationHealer {
	return &IntegrationHealer{
		db:               db,
		client:           client,
		cooldown:         time.Duration(cfg.CooldownSeconds) * time.Second,
		breakerThreshold: cfg.CircuitBreakerMax,
		breakerReset:     cfg.CircuitBreakerReset,
		dryRun:           cfg.DryRun,
		lastAttempt:      make(map[string]time.Time),
		attemptSeq:       make(map[string]int),
	}
}

// Heal 重载问题集成
// 返回 (false, nil) 表示被抑制的空操作失败；熔断/冷却返回可恢复错误
func (h *IntegrationHealer) Heal(ctx context.Context, issue *models.HealthIssue) (bool, error) {
	if issue == nil || issue.IntegrationDomain == "" {
		return false, &apperrors.IntegrationUnresolvedError{EntityID: entityOf(issue)}
	}

	// 抑制检查：被抑制的实体静默失败
	if suppressed, reason := h.isSuppressed(issue.EntityID); suppressed {
		logger.GetLogger().Infof("实体 %s 已抑制自愈，跳过集成修复: %s", issue.EntityID, reason)
		return false, nil
	}

	health, err := h.loadHealth(issue.IntegrationDomain)
	if err != nil {
		return false, err
	}

	now := time.Now()

	// 熔断检查：打开且未到期则拒绝；已到期先复位再继续
	if health.CircuitBreakerOpenUntil != nil {
		if health.CircuitBreakerOpenUntil.After(now) {
			return false, &apperrors.CircuitBreakerOpenError{
				IntegrationDomain: issue.IntegrationDomain,
				OpenUntil:         *health.CircuitBreakerOpenUntil,
			}
		}
		health.ConsecutiveFailures = 0
		health.CircuitBreakerOpenUntil = nil
		if err := h.db.Model(health).Updates(map[string]interface{}{
			"consecutive_failures":       0,
			"circuit_breaker_open_until": nil,
		}).Error; err != nil {
			logger.GetLogger().WithError(err).Error("复位熔断器失败")
		}
	}

	// 冷却检查
	h.mu.Lock()
	if last, ok := h.lastAttempt[issue.IntegrationDomain]; ok {
		if elapsed := now.Sub(last); elapsed < h.cooldown {
			h.mu.Unlock()
			return false, &apperrors.CooldownActiveError{
				IntegrationDomain: issue.IntegrationDomain,
				Remaining:         h.cooldown - elapsed,
			}
		}
	}
	h.lastAttempt[issue.IntegrationDomain] = now
	h.attemptSeq[issue.IntegrationDomain]++
	attemptNo := h.attemptSeq[issue.IntegrationDomain]
	h.mu.Unlock()

	// 执行重载（演练模式只记录不执行）
	attemptStart := time.Now()
	var healErr error
	if h.dryRun {
		logger.GetLogger().Infof("演练模式：跳过集成 %s 的实际重载", issue.IntegrationDomain)
	} else if issue.ConfigEntryID == "" {
		healErr = fmt.Errorf("集成 %s 缺少配置项ID", issue.IntegrationDomain)
	} else {
		reloadCtx, cancel := context.WithTimeout(ctx, reloadCommandTimeout)
		healErr = h.client.ReloadConfigEntry(reloadCtx, issue.ConfigEntryID)
		cancel()
	}

	h.recordAttempt(issue, attemptNo, healErr, attemptStart)

	if healErr == nil {
		// 成功：清零失败计数并关闭熔断器
		if err := h.db.Model(health).Updates(map[string]interface{}{
			"consecutive_failures":       0,
			"circuit_breaker_open_until": nil,
			"total_attempts":             gorm.Expr("total_attempts + 1"),
			"total_successes":            gorm.Expr("total_successes + 1"),
			"last_attempt_at":            now,
			"last_success_at":            now,
		}).Error; err != nil {
			logger.GetLogger().WithError(err).Error("更新集成健康状态失败")
		}
		return true, nil
	}

	// 失败：累加连续失败数，达到阈值则打开熔断器
	health.ConsecutiveFailures++
	updates := map[string]interface{}{
		"consecutive_failures": health.ConsecutiveFailures,
		"total_attempts":       gorm.Expr("total_attempts + 1"),
		"last_attempt_at":      now,
	}
	if health.ConsecutiveFailures >= h.breakerThreshold {
		openUntil := now.Add(h.breakerReset)
		updates["circuit_breaker_open_until"] = openUntil
		logger.GetLogger().Warnf("集成 %s 连续失败 %d 次，熔断至 %s",
			issue.IntegrationDomain, health.ConsecutiveFailures, openUntil.Format(time.RFC3339))
	}
	if err := h.db.Model(health).Updates(updates).Error; err != nil {
		logger.GetLogger().WithError(err).Error("更新集成健康状态失败")
	}

	return false, &apperrors.RecoverableHealingError{
		IntegrationDomain: issue.IntegrationDomain,
		Cause:             healErr,
	}
}

// CanHeal 预检：执行与 Heal 相同的抑制/熔断/冷却检查但不真正修复
func (h *IntegrationHealer) CanHeal(entityID string) error {
	if suppressed, reason := h.isSuppressed(entityID); suppressed {
		return &apperrors.HealingSuppressedError{EntityID: entityID, Reason: reason}
	}

	domain, err := h.resolveIntegration(entityID)
	if err != nil {
		return err
	}

	var health models.IntegrationHealth
	if err := h.db.Where("integration_domain = ?", domain).First(&health).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // 没有历史记录等同于健康
		}
		return err
	}

	now := time.Now()
	if health.CircuitBreakerOpen(now) {
		return &apperrors.CircuitBreakerOpenError{
			IntegrationDomain: domain,
			OpenUntil:         *health.CircuitBreakerOpenUntil,
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastAttempt[domain]; ok {
		if elapsed := now.Sub(last); elapsed < h.cooldown {
			return &apperrors.CooldownActiveError{
				IntegrationDomain: domain,
				Remaining:         h.cooldown - elapsed,
			}
		}
	}
	return nil
}

// isSuppressed 查询实体是否处于抑制名单
func (h *IntegrationHealer) isSuppressed(entityID string) (bool, string) {
	if entityID == "" {
		return false, ""
	}
	var suppression models.HealingSuppression
	if err := h.db.Where("entity_id = ?", entityID).First(&suppression).Error; err != nil {
		return false, ""
	}
	if suppression.Active(time.Now()) {
		return true, suppression.Reason
	}
	return false, ""
}

// resolveIntegration 通过注册表解析实体所属集成域
func (h *IntegrationHealer) resolveIntegration(entityID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rebootCommandTimeout)
	defer cancel()
	entries, err := h.client.ListEntityRegistry(ctx)
	if err != nil {
		return "", &apperrors.IntegrationUnresolvedError{EntityID: entityID}
	}
	for _, entry := range entries {
		if entry.EntityID == entityID {
			if entry.Platform == "" {
				break
			}
			return entry.Platform, nil
		}
	}
	return "", &apperrors.IntegrationUnresolvedError{EntityID: entityID}
}

// loadHealth 取出或创建集成健康记录
func (h *IntegrationHealer) loadHealth(domain string) (*models.IntegrationHealth, error) {
	var health models.IntegrationHealth
	err := h.db.Where("integration_domain = ?", domain).First(&health).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		health = models.IntegrationHealth{IntegrationDomain: domain}
		if err := h.db.Create(&health).Error; err != nil {
			return nil, fmt.Errorf("创建集成健康记录失败: %v", err)
		}
		return &health, nil
	}
	if err != nil {
		return nil, err
	}
	return &health, nil
}

// recordAttempt 记录一次集成级修复尝试
func (h *IntegrationHealer) recordAttempt(issue *models.HealthIssue, attemptNo int, healErr error, attemptStart time.Time) {
	actionLog := &models.HealingActionLog{
		Level:             string(models.LevelIntegration),
		EntityID:          issue.EntityID,
		IntegrationDomain: issue.IntegrationDomain,
		Strategy:          "reload_integration",
		AttemptNumber:     attemptNo,
		Success:           healErr == nil,
		DurationMs:        time.Since(attemptStart).Milliseconds(),
		TriggeredBy:       issue.IssueType,
		AttemptedAt:       attemptStart,
	}
	if healErr != nil {
		actionLog.ErrorMessage = healErr.Error()
	}
	if err := h.db.Create(actionLog).Error; err != nil {
		logger.GetLogger().WithError(err).Error("记录修复动作日志失败")
	}
}

func entityOf(issue *models.HealthIssue) string {
	if issue == nil {
		return ""
	}
	return issue.EntityID
}
