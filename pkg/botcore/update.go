package botcore

import "encoding/json"

// 常用事件类型。
const (
	TypeMessageNew   = "message_new"
	TypeMessageReply = "message_reply"
	TypeMessageEdit  = "message_edit"
	TypeMessageEvent = "message_event"
	TypeConfirmation = "confirmation"
)

// Update 描述社区收到的一条标准化事件。
// 只有 Type 一定存在；消息相关字段对非消息事件可能为零值。
type Update struct {
	Type      string          // 事件类型，例如 message_new
	EventID   string          // 平台事件 ID（回调与长轮询均可能携带）
	GroupID   int64           // 事件所属社区
	MessageID int64           // 消息 ID
	PeerID    int64           // 会话 ID（私聊时等于用户 ID，群聊为 2000000000+N）
	FromID    int64           // 发送者 ID
	Text      string          // 消息文本，缺省为 ""
	Payload   string          // 按钮 payload 的 JSON 文本
	Raw       json.RawMessage // 原始 object，便于 Handler 深度使用
}

// IsMessage 判断是否为普通入站消息。默认兜底路由只匹配此类事件。
func (u Update) IsMessage() bool {
	return u.Type == TypeMessageNew
}

// ReplyTarget 返回回复该事件时应使用的 peer_id。
func (u Update) ReplyTarget() int64 {
	if u.PeerID != 0 {
		return u.PeerID
	}
	return u.FromID
}
