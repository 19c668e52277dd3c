package services

import (
	"homeheal/internal/models"
	"homeheal/pkg/logger"
	"homeheal/pkg/queue"

	"github.com/google/uuid"
)

// Escalator 升级通知接口，级联把所有层级打穿后恰好调用一次
type Escalator interface {
	NotifyHealingFailure(hctx *models.HealingContext, errMsg string, attempts int) error
}

// QueueEscalator 基于Redis队列的升级通知实现
// 通知入队交给外部的通知分发器消费，同时发布一条pub/sub事件供实时订阅
type QueueEscalator struct {
	queue     *queue.RedisQueue
	queueName string
}

// NewQueueEscalator 创建队列升级通知器
func NewQueueEscalator(q *queue.RedisQueue, queueName string) *QueueEscalator {
	return &QueueEscalator{
		queue:     q,
		queueName: queueName,
	}
}

// NotifyHealingFailure 推送修复失败通知
func (e *QueueEscalator) NotifyHealingFailure(hctx *models.HealingContext, errMsg string, attempts int) error {
	message := &queue.NotificationMessage{
		NotificationID: uuid.New().String(),
		Kind:           "healing_failure",
		InstanceID:     hctx.InstanceID,
		AutomationID:   hctx.AutomationID,
		EntityIDs:      hctx.FailedEntities,
		Error:          errMsg,
		Attempts:       attempts,
		Detail: map[string]interface{}{
			"trigger_type": hctx.TriggerType,
		},
	}

	if err := e.queue.Enqueue(e.queueName, message); err != nil {
		return err
	}

	// 实时事件发布失败只记录，不影响通知入队结果
	if err := e.queue.PublishMessage("healing:failed", message); err != nil {
		logger.GetLogger().WithError(err).Warn("发布修复失败事件失败")
	}

	logger.GetLogger().Warnf("自愈升级通知已入队: instance=%s automation=%s error=%s",
		hctx.InstanceID, hctx.AutomationID, errMsg)
	return nil
}
