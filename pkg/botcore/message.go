package botcore

import (
	"fmt"
	"math/rand/v2"

	boterrors "github.com/IMBotPlatform/VKBotCore/pkg/errors"
	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
)

// MaxRecipients messages.send 单次允许的最大收件人数。
const MaxRecipients = 100

// Keyboard 可序列化为平台键盘 JSON 的对象，见 pkg/markup。
type Keyboard interface {
	KeyboardJSON() (string, error)
}

// OutgoingMessage 一条待发送的消息。
type OutgoingMessage struct {
	PeerIDs     []int64
	Text        string
	Attachments []string
	Keyboard    Keyboard
	StickerID   int64
	RandomID    int32 // 幂等随机数，0 表示发送时自动生成
}

// MessageOption 自定义 OutgoingMessage。
type MessageOption func(*OutgoingMessage)

// WithAttachments 追加附件，例如 photo123_456。
func WithAttachments(attachments ...string) MessageOption {
	return func(m *OutgoingMessage) {
		m.Attachments = append(m.Attachments, attachments...)
	}
}

// WithKeyboard 附带键盘。
func WithKeyboard(k Keyboard) MessageOption {
	return func(m *OutgoingMessage) {
		m.Keyboard = k
	}
}

// WithSticker 发送贴纸。
func WithSticker(id int64) MessageOption {
	return func(m *OutgoingMessage) {
		m.StickerID = id
	}
}

// WithRandomID 指定幂等随机数。
func WithRandomID(id int32) MessageOption {
	return func(m *OutgoingMessage) {
		m.RandomID = id
	}
}

// NewMessage 构造发往 peers 的文本消息。
func NewMessage(peers []int64, text string, opts ...MessageOption) OutgoingMessage {
	m := OutgoingMessage{PeerIDs: peers, Text: text}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Validate 校验收件人数量。
func (m OutgoingMessage) Validate() error {
	switch {
	case len(m.PeerIDs) == 0:
		return boterrors.NewValidationError("message has no recipients")
	case len(m.PeerIDs) > MaxRecipients:
		return boterrors.NewValidationError(fmt.Sprintf("message can't be sent to more than %d recipients", MaxRecipients))
	}
	return nil
}

// Params 校验并生成 messages.send 参数。单个收件人使用 peer_id，多个使用 user_ids。
func (m OutgoingMessage) Params() (vkapi.Params, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	randomID := m.RandomID
	if randomID == 0 {
		randomID = rand.Int32N(1<<31-8) + 1
	}

	params := vkapi.Params{"random_id": randomID}
	if len(m.PeerIDs) == 1 {
		params["peer_id"] = m.PeerIDs[0]
	} else {
		params["user_ids"] = vkapi.EncodeValue(m.PeerIDs)
	}
	if m.Text != "" {
		params["message"] = m.Text
	}
	if len(m.Attachments) > 0 {
		params["attachment"] = vkapi.EncodeValue(m.Attachments)
	}
	if m.StickerID != 0 {
		params["sticker_id"] = m.StickerID
	}
	if m.Keyboard != nil {
		kb, err := m.Keyboard.KeyboardJSON()
		if err != nil {
			return nil, fmt.Errorf("encode keyboard: %w", err)
		}
		params["keyboard"] = kb
	}
	return params, nil
}
