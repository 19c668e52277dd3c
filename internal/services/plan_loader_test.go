package services

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"homeheal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlanYAML = `
name: zigbee_light_fix
version: 2
description: Zigbee灯具恢复
enabled: true
priority: 50
match:
  entity_patterns:
    - "light.*"
  integration_domains:
    - zha
  failure_types:
    - trigger_failure
steps:
  - name: retry_call
    level: entity
    action: retry_service_call
    timeout_seconds: 15
  - name: reconnect_device
    level: device
    action: reconnect
    timeout_seconds: 45
on_failure:
  escalate: true
  cooldown_seconds: 300
tags:
  - zigbee
`

func TestParsePlanDocument(t *testing.T) {
	loader := NewPlanLoader(newTestDB(t), t.TempDir(), "")

	doc, err := loader.Parse([]byte(samplePlanYAML))
	require.NoError(t, err)

	assert.Equal(t, "zigbee_light_fix", doc.Name)
	assert.Equal(t, 2, doc.Version)
	assert.True(t, doc.Enabled)
	assert.Equal(t, 50, doc.Priority)
	assert.Equal(t, []string{"light.*"}, doc.Match.EntityPatterns)
	assert.Equal(t, []string{"zha"}, doc.Match.IntegrationDomains)
	require.Len(t, doc.Steps, 2)
	assert.Equal(t, models.LevelEntity, doc.Steps[0].Level)
	assert.Equal(t, float64(15), doc.Steps[0].TimeoutSeconds)
	assert.Equal(t, models.LevelDevice, doc.Steps[1].Level)
	assert.True(t, doc.OnFailure.Escalate)
	assert.Equal(t, 300, doc.OnFailure.CooldownSeconds)
}

func TestParseRejectsEmptyMatch(t *testing.T) {
	loader := NewPlanLoader(newTestDB(t), t.TempDir(), "")

	_, err := loader.Parse([]byte(`
name: no_match
version: 1
match: {}
steps:
  - name: retry
    level: entity
    action: retry_service_call
`))
	assert.Error(t, err)
}

func TestParseRejectsBadStepTimeout(t *testing.T) {
	loader := NewPlanLoader(newTestDB(t), t.TempDir(), "")

	_, err := loader.Parse([]byte(`
name: bad_timeout
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: retry
    level: entity
    action: retry_service_call
    timeout_seconds: 0.5
`))
	assert.Error(t, err)
}

func TestParseRejectsUnknownLevel(t *testing.T) {
	loader := NewPlanLoader(newTestDB(t), t.TempDir(), "")

	_, err := loader.Parse([]byte(`
name: bad_level
version: 1
match:
  entity_patterns:
    - "light.*"
steps:
  - name: nuke
    level: house
    action: burn_it_down
`))
	assert.Error(t, err)
}

func TestLoadAllSyncsToDatabase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zigbee.yaml"), []byte(samplePlanYAML), 0644))
	// 非法文件：记录失败但不影响其他文件
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0644))

	db := newTestDB(t)
	loader := NewPlanLoader(db, dir, "")

	loaded, failed := loader.LoadAll()
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, failed)

	var plan models.HealingPlan
	require.NoError(t, db.Where("name = ?", "zigbee_light_fix").First(&plan).Error)
	assert.Equal(t, 2, plan.Version)
	assert.True(t, plan.Enabled)
}

func TestLoadAllPreservesEnabledState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zigbee.yaml"), []byte(samplePlanYAML), 0644))

	db := newTestDB(t)
	loader := NewPlanLoader(db, dir, "")
	loader.LoadAll()

	// 运维手动禁用预案
	require.NoError(t, db.Model(&models.HealingPlan{}).
		Where("name = ?", "zigbee_light_fix").
		Updates(map[string]interface{}{"enabled": false, "execution_count": 7}).Error)

	// 重新同步：定义字段更新，启用状态和统计保留
	loader.LoadAll()

	var plan models.HealingPlan
	require.NoError(t, db.Where("name = ?", "zigbee_light_fix").First(&plan).Error)
	assert.False(t, plan.Enabled)
	assert.Equal(t, int64(7), plan.ExecutionCount)
}

func TestGetAllEnabledPlansOrder(t *testing.T) {
	db := newTestDB(t)
	loader := NewPlanLoader(db, t.TempDir(), "")

	for _, p := range []struct {
		name     string
		priority int
		enabled  bool
	}{
		{"low", 10, true},
		{"high", 90, true},
		{"mid", 50, true},
		{"off", 100, false},
	} {
		doc, err := loader.Parse([]byte(`
name: ` + p.name + `
version: 1
enabled: true
priority: ` + strconv.Itoa(p.priority) + `
match:
  entity_patterns:
    - "light.*"
steps:
  - name: retry
    level: entity
    action: retry_service_call
`))
		require.NoError(t, err)
		require.NoError(t, loader.syncPlan(doc, p.name+".yaml"))
		if !p.enabled {
			require.NoError(t, db.Model(&models.HealingPlan{}).
				Where("name = ?", p.name).Update("enabled", false).Error)
		}
	}

	plans, err := loader.GetAllEnabledPlans()
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "high", plans[0].Doc.Name)
	assert.Equal(t, "mid", plans[1].Doc.Name)
	assert.Equal(t, "low", plans[2].Doc.Name)
}
