package services

import (
	"context"
	"fmt"
	"time"

	"homeheal/internal/models"
	"homeheal/pkg/config"
	"homeheal/pkg/logger"
	"homeheal/pkg/smarthome"

	"gorm.io/gorm"
)

// DeviceLevelHealer L2修复器接口
type DeviceLevelHealer interface {
	Heal(ctx context.Context, entityIDs []string, triggeredBy, automationID string, cascadeExecutionID *uint) *models.DeviceHealingResult
}

// 设备级修复策略常量，固定顺序 reconnect -> reboot -> rediscover
const (
	DeviceActionReconnect  = "reconnect"
	DeviceActionReboot     = "reboot"
	DeviceActionRediscover = "rediscover"
)

// reconnectSettleWait 重连后的固定等待
const reconnectSettleWait = 2 * time.Second

// rebootCommandTimeout 重启/重载命令的调用超时
const rebootCommandTimeout = 10 * time.Second

// reloadCommandTimeout 配置项重载的调用超时
const reloadCommandTimeout = 30 * time.Second

// DeviceHealer 设备级修复器（L2）
// 把失败实体映射到物理设备，按集成域支持的能力依次尝试重连/重启/重新发现
type DeviceHealer struct {
	db     *gorm.DB
	client smarthome.Client

	rebootSettleWait     time.Duration
	rediscoverSettleWait time.Duration
}

// NewDeviceHealer 创建设备级修复器
func NewDeviceHealer(db *gorm.DB, client smarthome.Client, cfg *config.HealingConfig) *DeviceHealer {
	return &DeviceHealer{
		db:                   db,
		client:               client,
		rebootSettleWait:     cfg.RebootSettleWait,
		rediscoverSettleWait: cfg.RediscoverSettleWait,
	}
}

// deviceTarget 一个待修复的物理设备及其上下文
type deviceTarget struct {
	device   smarthome.DeviceRegistryEntry
	domain   string   // 集成域
	entities []string // 该设备上失败的实体
}

// deviceCapabilities 集成域 -> 支持的修复策略（固定顺序）
// 未知集成只支持重新发现
func deviceCapabilities(domain string) []string {
	switch domain {
	case "zha", "zigbee", "deconz", "zwave_js", "zwave":
		// 无线Mesh设备没有可靠的远程重启通道
		return []string{DeviceActionReconnect, DeviceActionRediscover}
	case "tplink", "tuya", "shelly", "tasmota", "esphome", "wled":
		return []string{DeviceActionReconnect, DeviceActionReboot, DeviceActionRediscover}
	default:
		return []string{DeviceActionRediscover}
	}
}

// Heal 修复一组实体背后的设备，任一设备修复成功即视为成功
func (h *DeviceHealer) Heal(ctx context.Context, entityIDs []string, triggeredBy, automationID string, cascadeExecutionID *uint) *models.DeviceHealingResult {
	start := time.Now()
	result := &models.DeviceHealingResult{
		DevicesAttempted: []string{},
		ActionsAttempted: []string{},
		HealedEntities:   []string{},
	}

	if len(entityIDs) == 0 {
		result.ErrorMessage = "没有待修复的实体"
		result.Duration = time.Since(start)
		return result
	}

	targets, err := h.resolveDevices(ctx, entityIDs)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("解析设备注册表失败: %v", err)
		result.Duration = time.Since(start)
		return result
	}
	if len(targets) == 0 {
		result.ErrorMessage = "失败实体均未关联物理设备"
		result.Duration = time.Since(start)
		return result
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			result.ErrorMessage = "timed out"
			break
		}
		result.DevicesAttempted = append(result.DevicesAttempted, target.device.ID)

		healed, actions := h.healDevice(ctx, target, triggeredBy, cascadeExecutionID)
		result.ActionsAttempted = append(result.ActionsAttempted, actions...)

		if healed != "" {
			result.Success = true
			result.HealedEntities = append(result.HealedEntities, target.entities...)
			if result.FinalAction == nil {
				final := healed
				result.FinalAction = &final
			}
		}
	}

	if !result.Success && result.ErrorMessage == "" {
		result.ErrorMessage = "所有设备修复策略均失败"
	}
	result.Duration = time.Since(start)
	return result
}

// resolveDevices 实体 -> 所属设备，没有设备ID的实体跳过
func (h *DeviceHealer) resolveDevices(ctx context.Context, entityIDs []string) ([]deviceTarget, error) {
	entityRegistry, err := h.client.ListEntityRegistry(ctx)
	if err != nil {
		return nil, err
	}
	deviceRegistry, err := h.client.ListDeviceRegistry(ctx)
	if err != nil {
		return nil, err
	}

	devices := make(map[string]smarthome.DeviceRegistryEntry, len(deviceRegistry))
	for _, d := range deviceRegistry {
		devices[d.ID] = d
	}

	entryByEntity := make(map[string]smarthome.EntityRegistryEntry, len(entityRegistry))
	for _, e := range entityRegistry {
		entryByEntity[e.EntityID] = e
	}

	// 按设备去重，保持实体出现顺序
	var order []string
	grouped := make(map[string]*deviceTarget)
	for _, entityID := range entityIDs {
		entry, ok := entryByEntity[entityID]
		if !ok || entry.DeviceID == "" {
			logger.GetLogger().Debugf("实体 %s 未关联设备，跳过设备级修复", entityID)
			continue
		}
		device, ok := devices[entry.DeviceID]
		if !ok {
			continue
		}
		target, ok := grouped[entry.DeviceID]
		if !ok {
			target = &deviceTarget{device: device, domain: entry.Platform}
			grouped[entry.DeviceID] = target
			order = append(order, entry.DeviceID)
		}
		target.entities = append(target.entities, entityID)
	}

	targets := make([]deviceTarget, 0, len(order))
	for _, id := range order {
		targets = append(targets, *grouped[id])
	}
	return targets, nil
}

// healDevice 按能力表顺序尝试单个设备，返回成功的策略名（失败为空）和尝试过的动作
func (h *DeviceHealer) healDevice(ctx context.Context, target deviceTarget, triggeredBy string, cascadeExecutionID *uint) (string, []string) {
	var attempted []string

	for _, action := range deviceCapabilities(target.domain) {
		if ctx.Err() != nil {
			break
		}
		attempted = append(attempted, action)

		attemptStart := time.Now()
		var err error
		switch action {
		case DeviceActionReconnect:
			err = h.reconnect(ctx, target)
		case DeviceActionReboot:
			err = h.reboot(ctx, target)
		case DeviceActionRediscover:
			err = h.rediscover(ctx, target)
		}

		h.logAction(target, action, triggeredBy, cascadeExecutionID, err, attemptStart)

		if err == nil {
			return action, attempted
		}
		logger.GetLogger().Debugf("L2修复尝试失败 device=%s action=%s: %v", target.device.ID, action, err)
	}
	return "", attempted
}

// reconnect 集成相关的重连/探活调用，之后固定等待短暂稳定期
func (h *DeviceHealer) reconnect(ctx context.Context, target deviceTarget) error {
	data := map[string]interface{}{"device_id": target.device.ID}
	var err error
	switch target.domain {
	case "zha", "zigbee":
		err = h.client.CallService(ctx, "zha", "reconfigure_device", map[string]interface{}{"ieee": target.device.ID}, rebootCommandTimeout)
	case "zwave_js", "zwave":
		err = h.client.CallService(ctx, "zwave_js", "ping", data, rebootCommandTimeout)
	default:
		err = h.client.CallService(ctx, "homeassistant", "update_entity", map[string]interface{}{"entity_id": target.entities}, rebootCommandTimeout)
	}
	if err != nil {
		return err
	}
	return h.settle(ctx, reconnectSettleWait)
}

// reboot 集成相关的重启调用，等待较长稳定期后确认设备仍在注册表中
func (h *DeviceHealer) reboot(ctx context.Context, target deviceTarget) error {
	var err error
	switch target.domain {
	case "esphome", "tasmota", "wled", "shelly":
		err = h.client.CallService(ctx, "button", "press", map[string]interface{}{
			"entity_id": fmt.Sprintf("button.%s_restart", target.device.ID),
		}, rebootCommandTimeout)
	default:
		err = h.client.CallService(ctx, target.domain, "reboot", map[string]interface{}{"device_id": target.device.ID}, rebootCommandTimeout)
	}
	if err != nil {
		return err
	}
	if err := h.settle(ctx, h.rebootSettleWait); err != nil {
		return err
	}
	return h.confirmDevicePresent(ctx, target.device.ID)
}

// rediscover 逐个重载设备的配置项，等待稳定期后确认设备仍在注册表中
func (h *DeviceHealer) rediscover(ctx context.Context, target deviceTarget) error {
	if len(target.device.ConfigEntries) == 0 {
		return fmt.Errorf("设备 %s 没有可重载的配置项", target.device.ID)
	}
	for _, entryID := range target.device.ConfigEntries {
		reloadCtx, cancel := context.WithTimeout(ctx, reloadCommandTimeout)
		err := h.client.ReloadConfigEntry(reloadCtx, entryID)
		cancel()
		if err != nil {
			return fmt.Errorf("重载配置项 %s 失败: %v", entryID, err)
		}
	}
	if err := h.settle(ctx, h.rediscoverSettleWait); err != nil {
		return err
	}
	return h.confirmDevicePresent(ctx, target.device.ID)
}

// confirmDevicePresent 确认设备在注册表中仍可解析
func (h *DeviceHealer) confirmDevicePresent(ctx context.Context, deviceID string) error {
	devices, err := h.client.ListDeviceRegistry(ctx)
	if err != nil {
		return fmt.Errorf("确认设备状态失败: %v", err)
	}
	for _, d := range devices {
		if d.ID == deviceID {
			return nil
		}
	}
	return fmt.Errorf("设备 %s 修复后未出现在注册表中", deviceID)
}

// settle 稳定期等待，可被上下文取消打断
func (h *DeviceHealer) settle(ctx context.Context, wait time.Duration) error {
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logAction 记录设备级修复动作
func (h *DeviceHealer) logAction(target deviceTarget, action, triggeredBy string, cascadeExecutionID *uint, err error, attemptStart time.Time) {
	entityID := ""
	if len(target.entities) > 0 {
		entityID = target.entities[0]
	}
	actionLog := &models.HealingActionLog{
		CascadeExecutionID: cascadeExecutionID,
		Level:              string(models.LevelDevice),
		EntityID:           entityID,
		DeviceID:           target.device.ID,
		IntegrationDomain:  target.domain,
		Strategy:           action,
		AttemptNumber:      1,
		Success:            err == nil,
		DurationMs:         time.Since(attemptStart).Milliseconds(),
		TriggeredBy:        triggeredBy,
		AttemptedAt:        attemptStart,
	}
	if err != nil {
		actionLog.ErrorMessage = err.Error()
	}
	if dbErr := h.db.Create(actionLog).Error; dbErr != nil {
		logger.GetLogger().WithError(dbErr).Error("记录修复动作日志失败")
	}
}
