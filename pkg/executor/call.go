package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
)

// Call 一次排队中的远程方法调用，以及它的结果句柄。
// 每个 Call 只会被 resolve 或 reject 一次。
type Call struct {
	Method string
	Params vkapi.Params

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(method string, params vkapi.Params) *Call {
	return &Call{
		Method: method,
		Params: params,
		done:   make(chan struct{}),
	}
}

// resolve 以成功结果结束 Call，返回是否为首次结束。
func (c *Call) resolve(result json.RawMessage) bool {
	settled := false
	c.once.Do(func() {
		c.result = result
		close(c.done)
		settled = true
	})
	return settled
}

// reject 以错误结束 Call，返回是否为首次结束。
func (c *Call) reject(err error) bool {
	settled := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

// Done 在 Call 结束后关闭。
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait 阻塞直到 Call 结束或 ctx 取消。
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode 等待结果并解码到 v。
func (c *Call) Decode(ctx context.Context, v any) error {
	raw, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s result: %w", c.Method, err)
	}
	return nil
}

// script 返回该调用在 execute 代码中的表达式，例如 API.messages.send({...})。
func (c *Call) script() (string, error) {
	params := c.Params
	if params == nil {
		params = vkapi.Params{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode %s params: %w", c.Method, err)
	}
	return fmt.Sprintf("API.%s(%s)", c.Method, body), nil
}
