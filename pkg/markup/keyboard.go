// Package markup 构造消息键盘。
package markup

import (
	"encoding/json"
	"fmt"
)

// MaxColumns 按标签自动排布时每行的默认按钮数。
const MaxColumns = 4

// Color 按钮颜色。
type Color string

const (
	ColorDefault  Color = "default"
	ColorPrimary  Color = "primary"
	ColorNegative Color = "negative"
	ColorPositive Color = "positive"
)

// 按钮动作类型。
const (
	ActionText     = "text"
	ActionCallback = "callback"
)

// Button 键盘按钮。Payload 未设置时为 {"button": Label}。
type Button struct {
	Label   string
	Color   Color
	Type    string
	Payload any
}

// ButtonOption 自定义按钮。
type ButtonOption func(*Button)

// WithColor 设置按钮颜色。
func WithColor(c Color) ButtonOption {
	return func(b *Button) {
		b.Color = c
	}
}

// WithPayload 设置按钮 payload，可以是任意可 JSON 序列化的值。
func WithPayload(v any) ButtonOption {
	return func(b *Button) {
		b.Payload = v
	}
}

// TextButton 创建文本按钮，点击后以 Label 作为消息文本发送。
func TextButton(label string, opts ...ButtonOption) Button {
	b := Button{Label: label, Color: ColorDefault, Type: ActionText}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

// CallbackButton 创建回调按钮，点击后产生 message_event 事件。
func CallbackButton(label string, payload any, opts ...ButtonOption) Button {
	b := TextButton(label, opts...)
	b.Type = ActionCallback
	b.Payload = payload
	return b
}

// MarshalJSON 按平台格式输出，payload 以 JSON 字符串嵌入。
func (b Button) MarshalJSON() ([]byte, error) {
	payload := b.Payload
	if payload == nil {
		payload = map[string]string{"button": b.Label}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload of button %q: %w", b.Label, err)
	}

	typ := b.Type
	if typ == "" {
		typ = ActionText
	}
	color := b.Color
	if color == "" {
		color = ColorDefault
	}

	return json.Marshal(struct {
		Color  Color `json:"color"`
		Action struct {
			Type    string `json:"type"`
			Label   string `json:"label"`
			Payload string `json:"payload"`
		} `json:"action"`
	}{
		Color: color,
		Action: struct {
			Type    string `json:"type"`
			Label   string `json:"label"`
			Payload string `json:"payload"`
		}{Type: typ, Label: b.Label, Payload: string(encoded)},
	})
}

// Keyboard 消息键盘，实现 botcore.Keyboard。
type Keyboard struct {
	OneTime bool       `json:"one_time,omitempty"`
	Inline  bool       `json:"inline,omitempty"`
	Buttons [][]Button `json:"buttons"`
}

// New 以显式的行创建键盘。
func New(rows ...[]Button) *Keyboard {
	k := &Keyboard{Buttons: [][]Button{}}
	for _, row := range rows {
		k.Row(row...)
	}
	return k
}

// FromLabels 将标签依次排布为文本按钮，每行最多 columns 个（<=0 时取 MaxColumns）。
func FromLabels(labels []string, columns int) *Keyboard {
	if columns <= 0 {
		columns = MaxColumns
	}
	k := New()
	for _, label := range labels {
		last := len(k.Buttons) - 1
		if last >= 0 && len(k.Buttons[last]) < columns {
			k.Buttons[last] = append(k.Buttons[last], TextButton(label))
			continue
		}
		k.Buttons = append(k.Buttons, []Button{TextButton(label)})
	}
	return k
}

// Row 追加一行按钮，空行被忽略。
func (k *Keyboard) Row(buttons ...Button) *Keyboard {
	if len(buttons) > 0 {
		k.Buttons = append(k.Buttons, buttons)
	}
	return k
}

// SetOneTime 设置是否在点击后隐藏。
func (k *Keyboard) SetOneTime(v bool) *Keyboard {
	k.OneTime = v
	return k
}

// SetInline 设置是否内嵌在消息中。
func (k *Keyboard) SetInline(v bool) *Keyboard {
	k.Inline = v
	return k
}

// KeyboardJSON 序列化为平台要求的 JSON 文本。
func (k *Keyboard) KeyboardJSON() (string, error) {
	if k == nil {
		return "", fmt.Errorf("keyboard is nil")
	}
	b, err := json.Marshal(k)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Empty 返回用于收起键盘的空键盘。
func Empty() *Keyboard {
	return New()
}
