package services

import (
	"testing"
	"time"

	"homeheal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatcherWithPlans(t *testing.T, yamls ...string) *PlanMatcher {
	t.Helper()
	loader := NewPlanLoader(newTestDB(t), t.TempDir(), "")
	for _, y := range yamls {
		doc, err := loader.Parse([]byte(y))
		require.NoError(t, err)
		require.NoError(t, loader.syncPlan(doc, "plan.yaml"))
	}
	return NewPlanMatcher(loader)
}

func TestFindMatchingPlanEntityGlob(t *testing.T) {
	m := newMatcherWithPlans(t, `
name: light_fix
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: retry
    level: entity
    action: retry_service_call
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	plan, err := m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "light_fix", plan.Doc.Name)

	// 领域前缀不同的实体不命中
	hctx = models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"switch.heater"})
	plan, err = m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestFindMatchingPlanIntegrationDomain(t *testing.T) {
	m := newMatcherWithPlans(t, `
name: zha_fix
version: 1
match:
  integration_domains:
    - zha
steps:
  - name: retry
    level: entity
    action: retry_service_call
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})

	// 集成映射可用且命中
	plan, err := m.FindMatchingPlan(hctx, map[string]string{"light.kitchen": "zha"}, models.TriggerTypeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)

	// 集成映射可用但不命中
	plan, err = m.FindMatchingPlan(hctx, map[string]string{"light.kitchen": "tplink"}, models.TriggerTypeFailure)
	require.NoError(t, err)
	assert.Nil(t, plan)

	// 注册表不可用（nil映射）：整个集成条件跳过，预案仍可命中
	plan, err = m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)
}

func TestFindMatchingPlanFailureType(t *testing.T) {
	m := newMatcherWithPlans(t, `
name: outcome_only
version: 1
match:
  entity_patterns:
    - "*"
  failure_types:
    - outcome_failure
steps:
  - name: retry
    level: entity
    action: retry_service_call
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeOutcomeFailure, []string{"light.kitchen"})

	plan, err := m.FindMatchingPlan(hctx, nil, models.TriggerTypeOutcomeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)

	plan, err = m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestFindMatchingPlanTimeWindow(t *testing.T) {
	m := newMatcherWithPlans(t, `
name: daytime_fix
version: 1
match:
  entity_patterns:
    - "*"
  time_window:
    start_hour: 9
    end_hour: 17
steps:
  - name: retry
    level: entity
    action: retry_service_call
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})

	at := func(hour int) {
		m.now = func() time.Time {
			return time.Date(2026, 3, 15, hour, 30, 0, 0, time.Local)
		}
	}

	at(10)
	plan, err := m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)

	// 窗口为左闭右开：17点整已在窗口外
	at(17)
	plan, err = m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	assert.Nil(t, plan)

	at(8)
	plan, err = m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestFindMatchingPlanOvernightWindow(t *testing.T) {
	m := newMatcherWithPlans(t, `
name: overnight_fix
version: 1
match:
  entity_patterns:
    - "*"
  time_window:
    start_hour: 23
    end_hour: 7
steps:
  - name: retry
    level: entity
    action: retry_service_call
`)

	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})

	for hour, want := range map[int]bool{23: true, 2: true, 6: true, 7: false, 12: false, 22: false} {
		m.now = func() time.Time {
			return time.Date(2026, 3, 15, hour, 0, 0, 0, time.Local)
		}
		plan, err := m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
		require.NoError(t, err)
		if want {
			assert.NotNil(t, plan, "hour %d 应命中跨午夜窗口", hour)
		} else {
			assert.Nil(t, plan, "hour %d 不应命中跨午夜窗口", hour)
		}
	}
}

func TestFindMatchingPlanPriorityOrder(t *testing.T) {
	m := newMatcherWithPlans(t,
		`
name: generic_fix
version: 1
priority: 10
match:
  entity_patterns:
    - "*"
steps:
  - name: retry
    level: entity
    action: retry_service_call
`, `
name: specific_fix
version: 1
priority: 90
match:
  entity_patterns:
    - "light.*"
steps:
  - name: retry
    level: entity
    action: retry_service_call
`)

	// 两个预案都命中时取优先级更高的
	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	plan, err := m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "specific_fix", plan.Doc.Name)

	// 只有低优先级命中
	hctx = models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"switch.heater"})
	plan, err = m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "generic_fix", plan.Doc.Name)
}

func TestFindMatchingPlanDisabledSkipped(t *testing.T) {
	loader := NewPlanLoader(newTestDB(t), t.TempDir(), "")
	doc, err := loader.Parse([]byte(`
name: disabled_fix
version: 1
match:
  entity_patterns:
    - "*"
steps:
  - name: retry
    level: entity
    action: retry_service_call
`))
	require.NoError(t, err)
	require.NoError(t, loader.syncPlan(doc, "disabled.yaml"))
	require.NoError(t, loader.db.Model(&models.HealingPlan{}).
		Where("name = ?", "disabled_fix").Update("enabled", false).Error)

	m := NewPlanMatcher(loader)
	hctx := models.NewHealingContext("home-1", "automation.x", models.TriggerTypeFailure, []string{"light.kitchen"})
	plan, err := m.FindMatchingPlan(hctx, nil, models.TriggerTypeFailure)
	require.NoError(t, err)
	assert.Nil(t, plan)
}
