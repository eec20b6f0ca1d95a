// Package scene 在中间件链之上实现多步对话：Scene 是一组有序步骤，
// Stage 负责登记 Scene 并在会话处于对话中时接管分发。
package scene

import (
	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

// StateKey 对话状态在会话中的保留字段名。
const StateKey = "__scene"

// State 当前对话所处的场景与步骤。
type State struct {
	Current string
	Step    int
}

type localCommand struct {
	triggers []botcore.Trigger
	handler  botcore.HandlerFunc
}

// Scene 一个具名的多步对话流程。加入 Stage 后不应再修改。
type Scene struct {
	name     string
	steps    []botcore.HandlerFunc
	commands []localCommand
}

// New 创建场景，steps 按下标依次对应第 0、1、2... 步。
func New(name string, steps ...botcore.HandlerFunc) *Scene {
	s := &Scene{name: name}
	for _, h := range steps {
		if h != nil {
			s.steps = append(s.steps, h)
		}
	}
	return s
}

// Name 返回场景名。
func (s *Scene) Name() string {
	return s.name
}

// Len 返回步骤数。
func (s *Scene) Len() int {
	return len(s.steps)
}

// Command 注册仅在本场景内生效的命令，优先于步骤处理器匹配。
// 没有触发器的命令永远不会命中。
func (s *Scene) Command(triggers []botcore.Trigger, handler botcore.HandlerFunc) *Scene {
	if handler != nil {
		s.commands = append(s.commands, localCommand{triggers: triggers, handler: handler})
	}
	return s
}

// handlersFor 返回本次事件需要依次执行的处理器：命中的本地命令在前，其后为当前步骤起的各步。
func (s *Scene) handlersFor(u botcore.Update, step int) (cmd botcore.HandlerFunc, steps []botcore.HandlerFunc) {
	for _, c := range s.commands {
		// MatchAny 把空集合当作消息兜底，本地命令不适用
		if len(c.triggers) == 0 {
			continue
		}
		if botcore.MatchAny(c.triggers, u) {
			cmd = c.handler
			break
		}
	}
	if step >= 0 && step < len(s.steps) {
		steps = s.steps[step:]
	}
	return cmd, steps
}
