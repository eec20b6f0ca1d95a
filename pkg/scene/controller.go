package scene

import (
	"fmt"

	"github.com/IMBotPlatform/VKBotCore/pkg/botcore"
)

// controller 实现 botcore.SceneControl，状态全部保存在会话中。
type controller struct {
	stage *Stage
	ctx   *botcore.Context
}

var _ botcore.SceneControl = (*controller)(nil)

func (c *controller) state() (State, bool) {
	return botcore.SessionValue[State](c.ctx.Session, StateKey)
}

// Enter 设置对话状态，并立即在当前事件上执行该步骤。
func (c *controller) Enter(name string, step int) error {
	if _, ok := c.stage.Scene(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, name)
	}
	if c.ctx.Session == nil {
		return fmt.Errorf("enter scene %s: no session attached", name)
	}
	c.ctx.Session.Set(StateKey, State{Current: name, Step: step})
	return c.stage.enter(c.ctx)
}

func (c *controller) Leave() {
	c.ctx.Session.Delete(StateKey)
}

func (c *controller) Next() {
	c.update(func(s State) State {
		s.Step++
		return s
	})
}

func (c *controller) SelectStep(index int) {
	c.update(func(s State) State {
		s.Step = index
		return s
	})
}

func (c *controller) Step() int {
	s, _ := c.state()
	return s.Step
}

func (c *controller) Current() string {
	s, _ := c.state()
	return s.Current
}

func (c *controller) Active() bool {
	_, ok := c.state()
	return ok
}

// update 只在对话进行中修改状态。
func (c *controller) update(fn func(State) State) {
	c.ctx.Session.Update(StateKey, func(cur any, ok bool) (any, bool) {
		s, isState := cur.(State)
		if !ok || !isState {
			return cur, ok
		}
		return fn(s), true
	})
}
