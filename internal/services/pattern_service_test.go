package services

import (
	"testing"

	"homeheal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSuccessCreatesPattern(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	pattern, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pattern.HealingSuccessCount)
	require.NotNil(t, pattern.SuccessfulHealingLevel)
	assert.Equal(t, "entity", *pattern.SuccessfulHealingLevel)
	require.NotNil(t, pattern.SuccessfulHealingStrategy)
	assert.Equal(t, ActionRetryServiceCall, *pattern.SuccessfulHealingStrategy)
	assert.False(t, pattern.FirstObservedAt.IsZero())
}

func TestRecordSuccessIncrementsAndOverwrites(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	_, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)

	// 同一键再次成功：计数+1，层级和策略被最新结果覆盖
	pattern, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelDevice, DeviceActionReconnect)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pattern.HealingSuccessCount)
	assert.Equal(t, "device", *pattern.SuccessfulHealingLevel)
	assert.Equal(t, DeviceActionReconnect, *pattern.SuccessfulHealingStrategy)

	var count int64
	s.db.Model(&models.AutomationOutcomePattern{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRecordSuccessSeparateKeys(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	_, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)
	_, err = s.RecordSuccess("home-1", "automation.morning", "light.hall", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)
	_, err = s.RecordSuccess("home-2", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)

	var count int64
	s.db.Model(&models.AutomationOutcomePattern{}).Count(&count)
	assert.Equal(t, int64(3), count)
}

func TestFindBestPatternThreshold(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	_, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelDevice, DeviceActionReconnect)
	require.NoError(t, err)

	// 计数1 < 阈值3：不命中
	pattern, err := s.FindBestPattern("home-1", "automation.morning", 3)
	require.NoError(t, err)
	assert.Nil(t, pattern)

	_, err = s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelDevice, DeviceActionReconnect)
	require.NoError(t, err)
	_, err = s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelDevice, DeviceActionReconnect)
	require.NoError(t, err)

	pattern, err = s.FindBestPattern("home-1", "automation.morning", 3)
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, int64(3), pattern.HealingSuccessCount)
}

func TestFindBestPatternPicksHighestCount(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	for i := 0; i < 2; i++ {
		_, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		_, err := s.RecordSuccess("home-1", "automation.morning", "light.hall", models.LevelDevice, DeviceActionReconnect)
		require.NoError(t, err)
	}

	pattern, err := s.FindBestPattern("home-1", "automation.morning", 2)
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, "light.hall", pattern.EntityID)
	assert.Equal(t, "device", *pattern.SuccessfulHealingLevel)
}

func TestIncrementSuccessMonotonic(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	created, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)

	require.NoError(t, s.IncrementSuccess(created.ID))
	require.NoError(t, s.IncrementSuccess(created.ID))

	var pattern models.AutomationOutcomePattern
	require.NoError(t, s.db.First(&pattern, created.ID).Error)
	assert.Equal(t, int64(3), pattern.HealingSuccessCount)
}

func TestDeletePattern(t *testing.T) {
	s := NewPatternService(newTestDB(t))

	created, err := s.RecordSuccess("home-1", "automation.morning", "light.kitchen", models.LevelEntity, ActionRetryServiceCall)
	require.NoError(t, err)

	require.NoError(t, s.Delete(created.ID))
	assert.Error(t, s.Delete(created.ID)) // 已删除的模式再删报错
}
