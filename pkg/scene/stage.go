package scene

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

var (
	// ErrUnknownScene 场景未在 Stage 中登记。
	ErrUnknownScene = errors.New("unknown scene")
	// ErrDuplicateScene 场景名重复。
	ErrDuplicateScene = errors.New("duplicate scene")
)

// Stage 场景注册表，同时负责路由处于对话中的会话。
type Stage struct {
	mu     sync.RWMutex
	scenes map[string]*Scene
	logger *zap.Logger
}

// NewStage 创建 Stage，场景名重复时 panic。
func NewStage(scenes ...*Scene) *Stage {
	st := &Stage{scenes: make(map[string]*Scene), logger: zap.NewNop()}
	for _, s := range scenes {
		if err := st.Add(s); err != nil {
			panic(err)
		}
	}
	return st
}

// SetLogger 设置日志。
func (st *Stage) SetLogger(logger *zap.Logger) *Stage {
	if logger != nil {
		st.logger = logger
	}
	return st
}

// Add 登记场景。
func (st *Stage) Add(s *Scene) error {
	if s == nil {
		return errors.New("scene is nil")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.scenes[s.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateScene, s.name)
	}
	st.scenes[s.name] = s
	return nil
}

// Scene 按名称查找场景。
func (st *Stage) Scene(name string) (*Scene, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.scenes[name]
	return s, ok
}

// Middleware 返回需尽早注册到主链的中间件。
// 它为 ctx.Scene 注入控制器；会话处于对话中且事件为普通消息时接管本次分发，否则调用 next。
func (st *Stage) Middleware() botcore.HandlerFunc {
	return func(ctx *botcore.Context, next botcore.Next) error {
		ctrl := &controller{stage: st, ctx: ctx}
		ctx.Scene = ctrl

		if ctx.Session == nil {
			st.logger.Warn("scene middleware needs a session, register session.Middleware first", ctx.LogFields()...)
			next()
			return nil
		}
		if !ctrl.Active() || !ctx.Update.IsMessage() {
			next()
			return nil
		}
		return st.enter(ctx)
	}
}

// enter 在当前事件上执行会话所处场景的逻辑。
// 场景不存在或步骤越界时只记录诊断日志。
func (st *Stage) enter(ctx *botcore.Context) error {
	state, ok := botcore.SessionValue[State](ctx.Session, StateKey)
	if !ok {
		return nil
	}
	s, ok := st.Scene(state.Current)
	if !ok {
		st.logger.Warn("scene not found", append(ctx.LogFields(), zap.String("scene", state.Current))...)
		return nil
	}

	cmd, steps := s.handlersFor(ctx.Update, state.Step)
	if cmd != nil {
		cont, err := runHandler(ctx, cmd)
		if err != nil || !cont {
			return err
		}
	}
	if len(steps) == 0 {
		st.logger.Info("no scene step found", append(ctx.LogFields(),
			zap.String("scene", state.Current),
			zap.Int("step", state.Step),
		)...)
		return nil
	}

	// 步骤内调用 next 会在同一事件上继续执行下一步
	for _, h := range steps {
		cont, err := runHandler(ctx, h)
		if err != nil {
			return fmt.Errorf("scene %s: %w", state.Current, err)
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func runHandler(ctx *botcore.Context, h botcore.HandlerFunc) (bool, error) {
	cont := false
	err := h(ctx, func() { cont = true })
	return cont, err
}
