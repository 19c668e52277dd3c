package smarthome

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"homeheal/pkg/config"
	"homeheal/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client 智能家居中枢客户端接口
// 所有方法都是远程调用，可能超时或失败，由调用方决定是否重试
type Client interface {
	// CallService 调用实体服务，如 light.turn_on
	CallService(ctx context.Context, domain, service string, data map[string]interface{}, timeout time.Duration) error
	// ListEntityRegistry 拉取实体注册表
	ListEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error)
	// ListDeviceRegistry 拉取设备注册表
	ListDeviceRegistry(ctx context.Context) ([]DeviceRegistryEntry, error)
	// ReloadConfigEntry 重载指定的集成配置项
	ReloadConfigEntry(ctx context.Context, configEntryID string) error
}

// EntityRegistryEntry 实体注册表条目
type EntityRegistryEntry struct {
	EntityID      string `json:"entity_id"`
	DeviceID      string `json:"device_id"`
	Platform      string `json:"platform"` // 集成域，如 zha/tplink
	ConfigEntryID string `json:"config_entry_id"`
	DisabledBy    string `json:"disabled_by,omitempty"`
}

// DeviceRegistryEntry 设备注册表条目
type DeviceRegistryEntry struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer"`
	Model         string   `json:"model"`
	ConfigEntries []string `json:"config_entries"`
}

// wsMessage 中枢WebSocket协议消息
type wsMessage struct {
	ID          uint64          `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	Domain      string          `json:"domain,omitempty"`
	Service     string          `json:"service,omitempty"`
	ServiceData json.RawMessage `json:"service_data,omitempty"`
	EntryID     string          `json:"entry_id,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSClient 基于WebSocket的中枢客户端
type WSClient struct {
	url         string
	accessToken string
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan *wsMessage
	closed  bool
}

// NewWSClient 创建WebSocket客户端（不主动连接，首次调用时建连）
func NewWSClient(cfg *config.SmartHomeConfig) *WSClient {
	return &WSClient{
		url:         cfg.WebSocketURL,
		accessToken: cfg.AccessToken,
		dialTimeout: cfg.DialTimeout,
		pending:     make(map[uint64]chan *wsMessage),
	}
}

// Connect 建立连接并完成认证握手
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *WSClient) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("连接中枢失败: %v", err)
	}

	// 认证握手: auth_required -> auth -> auth_ok
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("读取握手消息失败: %v", err)
	}
	if hello.Type == "auth_required" {
		if err := conn.WriteJSON(wsMessage{Type: "auth", AccessToken: c.accessToken}); err != nil {
			conn.Close()
			return fmt.Errorf("发送认证消息失败: %v", err)
		}
		var authResp wsMessage
		if err := conn.ReadJSON(&authResp); err != nil {
			conn.Close()
			return fmt.Errorf("读取认证结果失败: %v", err)
		}
		if authResp.Type != "auth_ok" {
			conn.Close()
			return fmt.Errorf("中枢认证被拒绝: %s", authResp.Type)
		}
	}

	c.conn = conn
	go c.readLoop(conn)

	logger.GetLogger().Infof("已连接智能家居中枢: %s", c.url)
	return nil
}

// readLoop 持续读取响应，按消息ID分发给等待者
func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			// 唤醒所有等待者，让它们以连接错误失败
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				logger.GetLogger().Warnf("中枢连接断开: %v", err)
			}
			return
		}

		if msg.ID == 0 {
			continue // 事件推送等，忽略
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
	}
}

// roundTrip 发送请求并等待对应ID的响应
func (c *WSClient) roundTrip(ctx context.Context, msg wsMessage) (*wsMessage, error) {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.nextID++
	msg.ID = c.nextID
	ch := make(chan *wsMessage, 1)
	c.pending[msg.ID] = ch
	conn := c.conn
	err := conn.WriteJSON(msg)
	if err != nil {
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("发送请求失败: %v", err)
	}
	c.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("等待响应时连接断开")
		}
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("中枢返回错误: %s (%s)", resp.Error.Message, resp.Error.Code)
			}
			return nil, fmt.Errorf("中枢返回失败")
		}
		return resp, nil
	case <-ctx.Done():
		// 已发出的请求不再撤回，响应到达后会被丢弃
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// CallService 调用实体服务
func (c *WSClient) CallService(ctx context.Context, domain, service string, data map[string]interface{}, timeout time.Duration) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var serviceData json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("序列化服务参数失败: %v", err)
		}
		serviceData = raw
	}

	_, err := c.roundTrip(callCtx, wsMessage{
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: serviceData,
	})
	return err
}

// ListEntityRegistry 拉取实体注册表
func (c *WSClient) ListEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	resp, err := c.roundTrip(ctx, wsMessage{Type: "config/entity_registry/list"})
	if err != nil {
		return nil, err
	}
	var entries []EntityRegistryEntry
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return nil, fmt.Errorf("解析实体注册表失败: %v", err)
	}
	return entries, nil
}

// ListDeviceRegistry 拉取设备注册表
func (c *WSClient) ListDeviceRegistry(ctx context.Context) ([]DeviceRegistryEntry, error) {
	resp, err := c.roundTrip(ctx, wsMessage{Type: "config/device_registry/list"})
	if err != nil {
		return nil, err
	}
	var entries []DeviceRegistryEntry
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return nil, fmt.Errorf("解析设备注册表失败: %v", err)
	}
	return entries, nil
}

// ReloadConfigEntry 重载集成配置项
func (c *WSClient) ReloadConfigEntry(ctx context.Context, configEntryID string) error {
	_, err := c.roundTrip(ctx, wsMessage{
		Type:    "config_entries/reload",
		EntryID: configEntryID,
	})
	return err
}

// Close 关闭连接
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
