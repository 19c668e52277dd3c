package services

import (
	"context"
	"testing"
	"time"

	"homeheal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRuntimePlan(t *testing.T, loader *PlanLoader, yaml string) *RuntimePlan {
	t.Helper()
	doc, err := loader.Parse([]byte(yaml))
	require.NoError(t, err)
	require.NoError(t, loader.syncPlan(doc, "plan.yaml"))
	plans, err := loader.GetAllEnabledPlans()
	require.NoError(t, err)
	for i := range plans {
		if plans[i].Doc.Name == doc.Name {
			return &plans[i]
		}
	}
	t.Fatalf("预案 %s 未加载", doc.Name)
	return nil
}

func TestExecutePlanStopsAtFirstSuccess(t *testing.T) {
	db := newTestDB(t)
	entity := &stubEntityHealer{succeed: true}
	device := &stubDeviceHealer{succeed: true}
	e := NewPlanExecutor(db, entity, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: two_steps
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: first
    level: entity
    action: retry_service_call
  - name: second
    level: device
    action: reconnect
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)

	require.True(t, result.Success)
	require.NotNil(t, result.SuccessfulStep)
	assert.Equal(t, "first", *result.SuccessfulStep)
	// 第一步成功后不再执行后续步骤
	require.Len(t, result.Steps, 1)
	assert.Zero(t, device.Calls())
	assert.True(t, result.EntityResults["light.kitchen"])
}

func TestExecutePlanContinuesAfterFailedStep(t *testing.T) {
	db := newTestDB(t)
	entity := &stubEntityHealer{succeed: false}
	device := &stubDeviceHealer{succeed: true}
	e := NewPlanExecutor(db, entity, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: fallback_steps
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: first
    level: entity
    action: retry_service_call
  - name: second
    level: device
    action: reconnect
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)

	require.True(t, result.Success)
	require.NotNil(t, result.SuccessfulStep)
	assert.Equal(t, "second", *result.SuccessfulStep)
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[0].Success)
	assert.True(t, result.Steps[1].Success)
	// 后续成功覆盖此前的失败标记
	assert.True(t, result.EntityResults["light.kitchen"])
}

func TestExecutePlanAllStepsFail(t *testing.T) {
	db := newTestDB(t)
	entity := &stubEntityHealer{succeed: false}
	device := &stubDeviceHealer{succeed: false}
	e := NewPlanExecutor(db, entity, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: doomed
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: first
    level: entity
    action: retry_service_call
  - name: second
    level: device
    action: reconnect
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
	assert.Nil(t, result.SuccessfulStep)
	require.Len(t, result.Steps, 2)
}

func TestExecutePlanStepTimeout(t *testing.T) {
	db := newTestDB(t)
	entity := &stubEntityHealer{succeed: true, delay: 2 * time.Second}
	device := &stubDeviceHealer{succeed: true}
	e := NewPlanExecutor(db, entity, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: slow_step
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: slow
    level: entity
    action: retry_service_call
    timeout_seconds: 1
  - name: fallback
    level: device
    action: reconnect
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	start := time.Now()
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)

	// 慢步骤超时失败，回退步骤接手
	require.True(t, result.Success)
	require.NotNil(t, result.SuccessfulStep)
	assert.Equal(t, "fallback", *result.SuccessfulStep)
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[0].Success)
	assert.Contains(t, result.Steps[0].ErrorMessage, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

// laggardEntityHealer 不理会取消的慢修复器，截止时间之后才返回成功
type laggardEntityHealer struct {
	delay time.Duration
	done  chan struct{}
}

func (l *laggardEntityHealer) Heal(ctx context.Context, entityID, triggeredBy, automationID string, cascadeExecutionID *uint) *models.EntityHealingResult {
	time.Sleep(l.delay)
	close(l.done)
	action := ActionRetryServiceCall
	return &models.EntityHealingResult{Success: true, EntityID: entityID, FinalAction: &action}
}

func TestExecutePlanTimedOutStepIsolatedFromLateWrites(t *testing.T) {
	db := newTestDB(t)
	laggard := &laggardEntityHealer{delay: 1400 * time.Millisecond, done: make(chan struct{})}
	device := &stubDeviceHealer{succeed: true}
	e := NewPlanExecutor(db, laggard, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: late_writer
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: slow
    level: entity
    action: retry_service_call
    timeout_seconds: 1
  - name: fallback
    level: device
    action: reconnect
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)

	require.True(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[0].Success)
	assert.Contains(t, result.Steps[0].ErrorMessage, "timed out")
	assert.Empty(t, result.Steps[0].EntityResults)

	// 等掉队的修复器收尾：它迟到的成功只写进自己私有的结果，
	// 已返回的超时步骤不会被改写
	<-laggard.done
	time.Sleep(50 * time.Millisecond)
	assert.False(t, result.Steps[0].Success)
	assert.Empty(t, result.Steps[0].EntityResults)
	assert.True(t, result.EntityResults["light.kitchen"])
}

func TestExecutePlanPersistsExecution(t *testing.T) {
	db := newTestDB(t)
	entity := &stubEntityHealer{succeed: true}
	device := &stubDeviceHealer{}
	e := NewPlanExecutor(db, entity, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: audited
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: first
    level: entity
    action: retry_service_call
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)
	require.True(t, result.Success)

	var execution models.PlanExecution
	require.NoError(t, db.Where("plan_name = ?", "audited").First(&execution).Error)
	assert.True(t, execution.Success)
	assert.Equal(t, 1, execution.StepsTotal)
	assert.Equal(t, 1, execution.StepsSucceeded)

	var record models.HealingPlan
	require.NoError(t, db.Where("name = ?", "audited").First(&record).Error)
	assert.Equal(t, int64(1), record.ExecutionCount)
	assert.Equal(t, int64(1), record.SuccessCount)
	assert.NotNil(t, record.LastExecutedAt)
}

func TestExecutePlanIntegrationStepUsesDeviceHealer(t *testing.T) {
	db := newTestDB(t)
	entity := &stubEntityHealer{}
	device := &stubDeviceHealer{succeed: true}
	e := NewPlanExecutor(db, entity, device)

	plan := loadRuntimePlan(t, NewPlanLoader(db, t.TempDir(), ""), `
name: integration_step
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: reload
    level: integration
    action: rediscover
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	result := e.ExecutePlan(context.Background(), plan, hctx, nil)

	require.True(t, result.Success)
	assert.Equal(t, 1, device.Calls())
	assert.Zero(t, entity.Calls())
}
