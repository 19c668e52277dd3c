package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue Redis通知队列实现
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NotificationMessage 队列中的升级通知消息
type NotificationMessage struct {
	NotificationID string                 `json:"notification_id"`
	Kind           string                 `json:"kind"` // healing_failure/healing_success
	InstanceID     string                 `json:"instance_id"`
	AutomationID   string                 `json:"automation_id"`
	EntityIDs      []string               `json:"entity_ids"`
	Error          string                 `json:"error"`
	Attempts       int                    `json:"attempts"` // 已尝试的修复层级数
	Detail         map[string]interface{} `json:"detail,omitempty"`
	Created        int64                  `json:"created"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisQueue 创建Redis队列实例
func NewRedisQueue(config *Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "homeheal:queue"
	}

	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping() error {
	ctx := context.Background()
	return q.client.Ping(ctx).Err()
}

// Enqueue 将通知加入指定队列（左侧入队）
func (q *RedisQueue) Enqueue(queueName string, message *NotificationMessage) error {
	ctx := context.Background()

	if message.Created == 0 {
		message.Created = time.Now().Unix()
	}

	// 序列化消息
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化通知消息失败: %v", err)
	}

	queueKey := q.getQueueKey(queueName)
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("通知入队失败: %v", err)
	}

	// 记录通知到Hash中（用于状态查询），24小时过期
	notifyKey := q.getNotificationKey(message.NotificationID)
	info := map[string]interface{}{
		"notification_id": message.NotificationID,
		"kind":            message.Kind,
		"instance_id":     message.InstanceID,
		"automation_id":   message.AutomationID,
		"status":          "queued",
		"queued_at":       time.Now().Unix(),
	}
	if err := q.client.HSet(ctx, notifyKey, info).Err(); err != nil {
		return fmt.Errorf("记录通知状态失败: %v", err)
	}
	q.client.Expire(ctx, notifyKey, 24*time.Hour)

	return nil
}

// Dequeue 从指定队列阻塞取出一条通知（右侧出队），timeout为0时永久阻塞
func (q *RedisQueue) Dequeue(queueName string, timeout time.Duration) (*NotificationMessage, error) {
	ctx := context.Background()
	queueKey := q.getQueueKey(queueName)

	result, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("通知出队失败: %v", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var message NotificationMessage
	if err := json.Unmarshal([]byte(result[1]), &message); err != nil {
		return nil, fmt.Errorf("反序列化通知消息失败: %v", err)
	}
	return &message, nil
}

// QueueLength 获取指定队列长度
func (q *RedisQueue) QueueLength(queueName string) (int64, error) {
	ctx := context.Background()
	length, err := q.client.LLen(ctx, q.getQueueKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("获取队列长度失败: %v", err)
	}
	return length, nil
}

// ClearQueue 清空指定队列
func (q *RedisQueue) ClearQueue(queueName string) error {
	ctx := context.Background()
	return q.client.Del(ctx, q.getQueueKey(queueName)).Err()
}

// 辅助方法

// getQueueKey 获取队列键名
func (q *RedisQueue) getQueueKey(queueName string) string {
	return fmt.Sprintf("%s:%s", q.prefix, queueName)
}

// getNotificationKey 获取通知键名
func (q *RedisQueue) getNotificationKey(notificationID string) string {
	return fmt.Sprintf("%s:notification:%s", q.prefix, notificationID)
}

// GetClient 获取Redis客户端（用于高级操作）
func (q *RedisQueue) GetClient() *redis.Client {
	return q.client
}

// PublishMessage 发布消息到指定频道
func (q *RedisQueue) PublishMessage(channel string, message interface{}) error {
	ctx := context.Background()

	// 序列化消息
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	// 发布消息
	channelKey := fmt.Sprintf("%s:channel:%s", q.prefix, channel)
	if err := q.client.Publish(ctx, channelKey, data).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %v", err)
	}

	return nil
}

// SubscribeChannel 订阅指定频道
func (q *RedisQueue) SubscribeChannel(channel string) *redis.PubSub {
	ctx := context.Background()
	channelKey := fmt.Sprintf("%s:channel:%s", q.prefix, channel)
	return q.client.Subscribe(ctx, channelKey)
}
