package botcore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// TriggerKind 触发器种类。
type TriggerKind int

const (
	// KindText 文本前缀（大小写不敏感），同时可作为事件类型字面量。
	KindText TriggerKind = iota + 1
	// KindPattern 正则表达式，包含匹配即可。
	KindPattern
	// KindType 事件类型标签。
	KindType
	// KindPayload 按钮 payload 的 JSON 等值匹配。
	KindPayload
	// KindAlways 匹配任意事件。
	KindAlways
)

// Trigger 判定某个 Handler 是否适用于一条 Update 的谓词。
// 只能通过 Text / Pattern / Type / Payload / Always 构造。
type Trigger struct {
	kind    TriggerKind
	text    string
	pattern *regexp.Regexp
}

// Text 构造文本触发器，匹配时对双方做小写比较。
func Text(s string) Trigger {
	return Trigger{kind: KindText, text: strings.ToLower(s)}
}

// Pattern 构造正则触发器。正则针对原始大小写的消息文本匹配，
// 需要忽略大小写时在表达式中使用 (?i)。
func Pattern(re *regexp.Regexp) Trigger {
	return Trigger{kind: KindPattern, pattern: re}
}

// MustPattern 编译 expr 并构造正则触发器，表达式非法时 panic。
func MustPattern(expr string) Trigger {
	return Pattern(regexp.MustCompile(expr))
}

// Type 构造事件类型触发器。
func Type(tag string) Trigger {
	return Trigger{kind: KindType, text: tag}
}

// Payload 构造按钮 payload 触发器。v 可以是 JSON 文本或任意可序列化的值。
func Payload(v any) Trigger {
	return Trigger{kind: KindPayload, text: canonicalPayload(v)}
}

// Always 构造恒真触发器。
func Always() Trigger {
	return Trigger{kind: KindAlways}
}

// Kind 返回触发器种类。
func (t Trigger) Kind() TriggerKind {
	return t.kind
}

// String 实现 fmt.Stringer，便于日志输出。
func (t Trigger) String() string {
	switch t.kind {
	case KindText:
		return fmt.Sprintf("text(%q)", t.text)
	case KindPattern:
		if t.pattern == nil {
			return "pattern(<nil>)"
		}
		return fmt.Sprintf("pattern(%s)", t.pattern.String())
	case KindType:
		return fmt.Sprintf("type(%s)", t.text)
	case KindPayload:
		return fmt.Sprintf("payload(%s)", t.text)
	case KindAlways:
		return "always"
	default:
		return "invalid"
	}
}

// Match 判断单个触发器是否命中。
func (t Trigger) Match(u Update) bool {
	switch t.kind {
	case KindAlways:
		return true
	case KindType:
		return u.Type == t.text
	case KindText:
		if u.Type == t.text {
			return true
		}
		return u.IsMessage() && strings.HasPrefix(strings.ToLower(u.Text), t.text)
	case KindPattern:
		return u.IsMessage() && t.pattern != nil && t.pattern.MatchString(u.Text)
	case KindPayload:
		return u.IsMessage() && u.Payload != "" && canonicalPayload(u.Payload) == t.text
	default:
		return false
	}
}

// MatchAny 判断一组触发器是否命中（逻辑或）。
// 空集合表示默认兜底：只匹配普通入站消息。
func MatchAny(triggers []Trigger, u Update) bool {
	if len(triggers) == 0 {
		return u.IsMessage()
	}
	for _, t := range triggers {
		if t.Match(u) {
			return true
		}
	}
	return false
}

// canonicalPayload 把 payload 规整为键有序的紧凑 JSON，便于等值比较。
func canonicalPayload(v any) string {
	var raw []byte
	switch val := v.(type) {
	case string:
		raw = []byte(val)
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		raw = b
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// 非 JSON 文本按原样比较
		return string(raw)
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
