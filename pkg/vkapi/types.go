package vkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Params 方法调用参数。值按 VK 约定编码：切片以逗号连接，布尔为 1/0，复杂结构为 JSON。
type Params map[string]any

// Values 将参数编码为表单值，nil 值会被跳过。
func (p Params) Values() url.Values {
	out := make(url.Values, len(p))
	for k, v := range p {
		if v == nil {
			continue
		}
		out.Set(k, EncodeValue(v))
	}
	return out
}

// EncodeValue 将单个参数值编码为字符串。
func EncodeValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []string:
		return strings.Join(val, ",")
	case []int64:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, ",")
	case []int:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// Caller 抽象一次平台 API 方法调用。
type Caller interface {
	Call(ctx context.Context, method string, params Params) (*Response, error)
}

// LongPoller 抽象一次长轮询请求。
type LongPoller interface {
	Check(ctx context.Context, server string, params Params) (*LongPollResponse, error)
}

// Response API 方法调用的响应包。
type Response struct {
	Response      json.RawMessage `json:"response"`
	ExecuteErrors []ExecuteError  `json:"execute_errors,omitempty"`
	Error         *APIError       `json:"error,omitempty"`
}

// APIError 平台返回的方法级错误。
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// Error 实现 error 接口
func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// ExecuteError execute 批量调用中单个方法的错误。
type ExecuteError struct {
	Method  string `json:"method"`
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

// Error 实现 error 接口
func (e ExecuteError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %s", e.Method, e.Code, e.Message)
}

// Timestamp 长轮询事件游标。平台在不同版本下会以数字或字符串返回。
type Timestamp string

// UnmarshalJSON 同时接受 JSON 数字与字符串。
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid ts %s: %w", string(data), err)
	}
	*t = Timestamp(n.String())
	return nil
}

// String 实现 fmt.Stringer
func (t Timestamp) String() string {
	return string(t)
}

// LongPollServer 长轮询参数（服务器地址、密钥与初始游标）。
type LongPollServer struct {
	Key    string    `json:"key"`
	Server string    `json:"server"`
	TS     Timestamp `json:"ts"`
}

// LongPollResponse 长轮询响应。Failed 非零时 Updates 为空。
type LongPollResponse struct {
	TS      Timestamp         `json:"ts"`
	Updates []json.RawMessage `json:"updates"`
	Failed  int               `json:"failed,omitempty"`
}
