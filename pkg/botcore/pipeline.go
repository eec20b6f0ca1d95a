package botcore

import (
	"github.com/IMBotPlatform/VKBotCore/pkg/executor"
	"github.com/IMBotPlatform/VKBotCore/pkg/vkapi"
)

// Responder 定义 Handler 回调 Bot 的能力。
// 所有方法只入队，结果通过 executor.Call 异步获得。
type Responder interface {
	Execute(method string, params vkapi.Params) *executor.Call
	SendMessage(msg OutgoingMessage) (*executor.Call, error)
}

// SceneControl 当前对话场景的控制接口，由 scene.Stage 的中间件注入 Context。
type SceneControl interface {
	// Enter 进入场景并立即在当前事件上执行该步骤。
	Enter(name string, step int) error
	// Leave 结束当前场景。
	Leave()
	// Next 步骤下标加一，在下一条消息上生效。
	Next()
	// SelectStep 直接设置步骤下标。
	SelectStep(index int)
	// Step 返回当前步骤下标，无场景时为 0。
	Step() int
	// Current 返回当前场景名，无场景时为空串。
	Current() string
	// Active 是否处于某个场景中。
	Active() bool
}
