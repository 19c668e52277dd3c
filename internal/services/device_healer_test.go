package services

import (
	"context"
	"errors"
	"testing"

	"homeheal/internal/models"
	"homeheal/pkg/smarthome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zigbeeRegistry() ([]smarthome.EntityRegistryEntry, []smarthome.DeviceRegistryEntry) {
	entities := []smarthome.EntityRegistryEntry{
		{EntityID: "light.kitchen", DeviceID: "dev-1", Platform: "zha", ConfigEntryID: "entry-1"},
		{EntityID: "light.hall", DeviceID: "dev-1", Platform: "zha", ConfigEntryID: "entry-1"},
		{EntityID: "sensor.helper", DeviceID: "", Platform: "template"},
	}
	devices := []smarthome.DeviceRegistryEntry{
		{ID: "dev-1", Name: "Kitchen Bulb", ConfigEntries: []string{"entry-1"}},
	}
	return entities, devices
}

func TestDeviceCapabilities(t *testing.T) {
	assert.Equal(t, []string{DeviceActionReconnect, DeviceActionRediscover}, deviceCapabilities("zha"))
	assert.Equal(t, []string{DeviceActionReconnect, DeviceActionRediscover}, deviceCapabilities("zwave_js"))
	assert.Equal(t, []string{DeviceActionReconnect, DeviceActionReboot, DeviceActionRediscover}, deviceCapabilities("esphome"))
	assert.Equal(t, []string{DeviceActionRediscover}, deviceCapabilities("some_custom_integration"))
}

func TestDeviceHealNoEntities(t *testing.T) {
	h := NewDeviceHealer(newTestDB(t), &fakeClient{}, testHealingConfig())

	result := h.Heal(context.Background(), nil, "test", "automation.x", nil)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestDeviceHealNoBackingDevice(t *testing.T) {
	client := &fakeClient{
		entities: []smarthome.EntityRegistryEntry{
			{EntityID: "sensor.helper", DeviceID: "", Platform: "template"},
		},
	}
	h := NewDeviceHealer(newTestDB(t), client, testHealingConfig())

	result := h.Heal(context.Background(), []string{"sensor.helper"}, "test", "automation.x", nil)
	assert.False(t, result.Success)
	assert.Empty(t, result.DevicesAttempted)
}

func TestDeviceHealReconnectSucceeds(t *testing.T) {
	db := newTestDB(t)
	entities, devices := zigbeeRegistry()
	client := &fakeClient{entities: entities, devices: devices}
	h := NewDeviceHealer(db, client, testHealingConfig())

	result := h.Heal(context.Background(), []string{"light.kitchen", "light.hall"}, "cascade", "automation.x", nil)

	require.True(t, result.Success)
	require.NotNil(t, result.FinalAction)
	assert.Equal(t, DeviceActionReconnect, *result.FinalAction)
	// 两个实体同属一个设备，设备只尝试一次
	assert.Equal(t, []string{"dev-1"}, result.DevicesAttempted)
	assert.ElementsMatch(t, []string{"light.kitchen", "light.hall"}, result.HealedEntities)

	// zha走协调器的重配置调用
	calls := client.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "zha", calls[0].Domain)
	assert.Equal(t, "reconfigure_device", calls[0].Service)

	var logCount int64
	db.Model(&models.HealingActionLog{}).Where("device_id = ?", "dev-1").Count(&logCount)
	assert.Equal(t, int64(1), logCount)
}

func TestDeviceHealFallsBackToRediscover(t *testing.T) {
	db := newTestDB(t)
	entities, devices := zigbeeRegistry()
	client := &fakeClient{
		entities: entities,
		devices:  devices,
		// 所有服务调用失败，只有配置项重载可用
		callServiceFn: func(domain, service string, data map[string]interface{}) error {
			return errors.New("coordinator busy")
		},
	}
	h := NewDeviceHealer(db, client, testHealingConfig())

	result := h.Heal(context.Background(), []string{"light.kitchen"}, "cascade", "automation.x", nil)

	require.True(t, result.Success)
	assert.Equal(t, DeviceActionRediscover, *result.FinalAction)
	assert.Equal(t, []string{DeviceActionReconnect, DeviceActionRediscover}, result.ActionsAttempted)
	assert.Equal(t, 1, client.ReloadCount())
}

func TestDeviceHealAllActionsFail(t *testing.T) {
	db := newTestDB(t)
	entities, devices := zigbeeRegistry()
	client := &fakeClient{
		entities: entities,
		devices:  devices,
		callServiceFn: func(domain, service string, data map[string]interface{}) error {
			return errors.New("coordinator busy")
		},
		reloadFn: func(configEntryID string) error {
			return errors.New("reload rejected")
		},
	}
	h := NewDeviceHealer(db, client, testHealingConfig())

	result := h.Heal(context.Background(), []string{"light.kitchen"}, "cascade", "automation.x", nil)

	assert.False(t, result.Success)
	assert.Empty(t, result.HealedEntities)
	assert.NotEmpty(t, result.ErrorMessage)

	var logCount int64
	db.Model(&models.HealingActionLog{}).Where("success = ?", false).Count(&logCount)
	assert.Equal(t, int64(2), logCount)
}

func TestDeviceHealRediscoverRequiresConfigEntry(t *testing.T) {
	client := &fakeClient{
		entities: []smarthome.EntityRegistryEntry{
			{EntityID: "light.odd", DeviceID: "dev-2", Platform: "some_custom_integration"},
		},
		devices: []smarthome.DeviceRegistryEntry{
			{ID: "dev-2", Name: "Odd Device"}, // 没有配置项
		},
	}
	h := NewDeviceHealer(newTestDB(t), client, testHealingConfig())

	result := h.Heal(context.Background(), []string{"light.odd"}, "cascade", "automation.x", nil)
	assert.False(t, result.Success)
	assert.Zero(t, client.ReloadCount())
}
