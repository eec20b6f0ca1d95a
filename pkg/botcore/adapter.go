package botcore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope 平台推送（回调或长轮询）中单个事件的外层结构。
type Envelope struct {
	Type    string          `json:"type"`
	Object  json.RawMessage `json:"object"`
	GroupID int64           `json:"group_id"`
	EventID string          `json:"event_id"`
	Secret  string          `json:"secret,omitempty"`
}

// Adapter 将平台原始事件映射为标准 Update。
type Adapter interface {
	Normalize(raw json.RawMessage) (Update, error)
}

// AdapterFunc 允许直接以函数形式实现 Adapter。
type AdapterFunc func(raw json.RawMessage) (Update, error)

// Normalize 实现 Adapter 接口。
func (f AdapterFunc) Normalize(raw json.RawMessage) (Update, error) {
	if f == nil {
		return Update{}, nil
	}
	return f(raw)
}

// JSONAdapter 默认适配器，解析 {type, object, group_id, event_id}。
type JSONAdapter struct{}

// Normalize 实现 Adapter 接口。
func (JSONAdapter) Normalize(raw json.RawMessage) (Update, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return FromEnvelope(env)
}

// messageObject 同时覆盖新版 {message:{...}} 与旧版平铺结构中关心的字段。
type messageObject struct {
	ID      int64           `json:"id"`
	PeerID  int64           `json:"peer_id"`
	FromID  int64           `json:"from_id"`
	UserID  int64           `json:"user_id"`
	Text    *string         `json:"text"`
	Body    *string         `json:"body"`
	Payload json.RawMessage `json:"payload"`
	Message *messageObject  `json:"message"`
}

// FromEnvelope 从外层结构构造 Update。
func FromEnvelope(env Envelope) (Update, error) {
	if env.Type == "" {
		return Update{}, fmt.Errorf("update has no type")
	}
	u := Update{
		Type:    env.Type,
		EventID: env.EventID,
		GroupID: env.GroupID,
		Raw:     env.Object,
	}

	obj := bytes.TrimSpace(env.Object)
	if len(obj) == 0 || obj[0] != '{' {
		return u, nil
	}

	var m messageObject
	if err := json.Unmarshal(obj, &m); err != nil {
		return Update{}, fmt.Errorf("decode %s object: %w", env.Type, err)
	}
	if m.Message != nil {
		m = *m.Message
	}

	u.MessageID = m.ID
	u.PeerID = m.PeerID
	u.FromID = m.FromID
	if u.FromID == 0 {
		u.FromID = m.UserID
	}
	switch {
	case m.Text != nil:
		u.Text = *m.Text
	case m.Body != nil:
		u.Text = *m.Body
	}
	u.Payload = payloadString(m.Payload)
	return u, nil
}

// payloadString 统一 payload 表示：字符串形式取其内容，对象形式保留原 JSON。
func payloadString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
