package errors

import (
	"fmt"
	"time"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// ========== 自愈领域错误 ==========

// CircuitBreakerOpenError 集成熔断中，在恢复时间之前拒绝修复
type CircuitBreakerOpenError struct {
	IntegrationDomain string
	OpenUntil         time.Time
}

func (e *CircuitBreakerOpenError) Error() string {
	return fmt.Sprintf("集成 %s 熔断中，%s 后可重试", e.IntegrationDomain, time.Until(e.OpenUntil).Round(time.Second))
}

// CooldownActiveError 集成冷却中，需等待剩余窗口
type CooldownActiveError struct {
	IntegrationDomain string
	Remaining         time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("集成 %s 冷却中，剩余 %s", e.IntegrationDomain, e.Remaining.Round(time.Second))
}

// HealingSuppressedError 实体被显式抑制，不允许自动修复
type HealingSuppressedError struct {
	EntityID string
	Reason   string
}

func (e *HealingSuppressedError) Error() string {
	return fmt.Sprintf("实体 %s 已抑制自愈: %s", e.EntityID, e.Reason)
}

// IntegrationUnresolvedError 无法为实体解析所属集成，本次修复终止
type IntegrationUnresolvedError struct {
	EntityID string
}

func (e *IntegrationUnresolvedError) Error() string {
	return fmt.Sprintf("无法解析实体 %s 所属的集成", e.EntityID)
}

// RecoverableHealingError 修复失败但允许稍后重试
type RecoverableHealingError struct {
	IntegrationDomain string
	Cause             error
}

func (e *RecoverableHealingError) Error() string {
	return fmt.Sprintf("集成 %s 修复失败（可重试）: %v", e.IntegrationDomain, e.Cause)
}

func (e *RecoverableHealingError) Unwrap() error {
	return e.Cause
}
