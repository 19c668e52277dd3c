package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/config"
	"homeheal/pkg/smarthome"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 创建内存SQLite数据库并迁移全部模型
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库只允许单连接，否则每个连接各自为空库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.HealingCascadeExecution{},
		&models.HealingActionLog{},
		&models.AutomationOutcomePattern{},
		&models.IntegrationHealth{},
		&models.HealingSuppression{},
		&models.EntityActionRecord{},
		&models.HealingPlan{},
		&models.PlanExecution{},
	))
	return db
}

// testHealingConfig 测试用的快速参数
func testHealingConfig() *config.HealingConfig {
	return &config.HealingConfig{
		MaxRetries:            3,
		RetryBaseDelay:        time.Millisecond,
		AttemptTimeout:        time.Second,
		RebootSettleWait:      time.Millisecond,
		RediscoverSettleWait:  time.Millisecond,
		CooldownSeconds:       300,
		CircuitBreakerMax:     3,
		CircuitBreakerReset:   time.Hour,
		PatternMatchThreshold: 3,
		DefaultCascadeTimeout: 120,
	}
}

// serviceCall 记录一次服务调用
type serviceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
}

// fakeClient 智能家居中枢的可编程替身
type fakeClient struct {
	mu sync.Mutex

	callServiceFn func(domain, service string, data map[string]interface{}) error
	reloadFn      func(configEntryID string) error
	registryErr   error

	entities []smarthome.EntityRegistryEntry
	devices  []smarthome.DeviceRegistryEntry

	calls   []serviceCall
	reloads []string
}

func (f *fakeClient) CallService(ctx context.Context, domain, service string, data map[string]interface{}, timeout time.Duration) error {
	f.mu.Lock()
	f.calls = append(f.calls, serviceCall{Domain: domain, Service: service, Data: data})
	fn := f.callServiceFn
	f.mu.Unlock()
	if fn != nil {
		return fn(domain, service, data)
	}
	return nil
}

func (f *fakeClient) ListEntityRegistry(ctx context.Context) ([]smarthome.EntityRegistryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registryErr != nil {
		return nil, f.registryErr
	}
	out := make([]smarthome.EntityRegistryEntry, len(f.entities))
	copy(out, f.entities)
	return out, nil
}

func (f *fakeClient) ListDeviceRegistry(ctx context.Context) ([]smarthome.DeviceRegistryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registryErr != nil {
		return nil, f.registryErr
	}
	out := make([]smarthome.DeviceRegistryEntry, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeClient) ReloadConfigEntry(ctx context.Context, configEntryID string) error {
	f.mu.Lock()
	f.reloads = append(f.reloads, configEntryID)
	fn := f.reloadFn
	f.mu.Unlock()
	if fn != nil {
		return fn(configEntryID)
	}
	return nil
}

func (f *fakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) Calls() []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]serviceCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeClient) ReloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reloads)
}

// failTimes 返回前 n 次失败、之后成功的调用函数
func failTimes(n int) func(domain, service string, data map[string]interface{}) error {
	var mu sync.Mutex
	count := 0
	return func(domain, service string, data map[string]interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count <= n {
			return fmt.Errorf("service unavailable (attempt %d)", count)
		}
		return nil
	}
}

// ========== 修复器替身：编排器测试用 ==========

// stubEntityHealer L1替身，按预设成败应答并计数
type stubEntityHealer struct {
	mu      sync.Mutex
	succeed bool
	delay   time.Duration
	calls   int
}

func (s *stubEntityHealer) Heal(ctx context.Context, entityID, triggeredBy, automationID string, cascadeExecutionID *uint) *models.EntityHealingResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return &models.EntityHealingResult{EntityID: entityID, ErrorMessage: "timed out"}
		}
	}
	if s.succeed {
		action := ActionRetryServiceCall
		return &models.EntityHealingResult{Success: true, EntityID: entityID, FinalAction: &action}
	}
	return &models.EntityHealingResult{EntityID: entityID, ErrorMessage: "entity healing failed"}
}

func (s *stubEntityHealer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubDeviceHealer L2替身
type stubDeviceHealer struct {
	mu      sync.Mutex
	succeed bool
	calls   int
}

func (s *stubDeviceHealer) Heal(ctx context.Context, entityIDs []string, triggeredBy, automationID string, cascadeExecutionID *uint) *models.DeviceHealingResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.succeed {
		action := DeviceActionReconnect
		return &models.DeviceHealingResult{
			Success:        true,
			FinalAction:    &action,
			HealedEntities: append([]string(nil), entityIDs...),
		}
	}
	return &models.DeviceHealingResult{ErrorMessage: "device healing failed"}
}

func (s *stubDeviceHealer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubIntegrationHealer L3替身
type stubIntegrationHealer struct {
	mu      sync.Mutex
	succeed bool
	err     error
	calls   int
}

func (s *stubIntegrationHealer) Heal(ctx context.Context, issue *models.HealthIssue) (bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.succeed, nil
}

func (s *stubIntegrationHealer) CanHeal(entityID string) error { return nil }

func (s *stubIntegrationHealer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubEscalator 升级通知替身，只计数
type stubEscalator struct {
	mu    sync.Mutex
	calls int
	last  string
}

func (s *stubEscalator) NotifyHealingFailure(hctx *models.HealingContext, errMsg string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = errMsg
	return nil
}

func (s *stubEscalator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
