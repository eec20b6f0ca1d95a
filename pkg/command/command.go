// Package command 把以前缀开头的消息交给 Cobra 命令树执行，并把输出回复到原会话。
package command

import "github.com/spf13/cobra"

// CommandFactory 定义创建 Cobra 命令树的工厂函数类型。
// 事件可能并发分发，每次执行都必须拥有独立的命令对象实例，以避免 Flag 解析的并发冲突。
type CommandFactory func() *cobra.Command
