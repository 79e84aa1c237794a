package slash

import "strings"

// Command 表示内置斜杠命令的标识符。
type Command string

// 内置命令集合。
const (
	CommandConversations Command = "conversations"
	CommandDelete        Command = "delete"
	CommandFloors        Command = "floors"
	CommandClear         Command = "clear"
	CommandStatus        Command = "status"
	CommandPing          Command = "ping"
	CommandQuit          Command = "quit"
	CommandExit          Command = "exit"
)

// Item 代表弹窗中的一行条目。
type Item struct {
	Command     Command
	Description string
	Usage       string
}

// Token 返回无前导斜杠的匹配键。
func (i Item) Token() string {
	return string(i.Command)
}

// DisplayName 返回带前缀斜杠的展示名称。
func (i Item) DisplayName() string {
	token := i.Token()
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "/") {
		return token
	}
	return "/" + token
}

func builtinItems() []Item {
	return []Item{
		{Command: CommandConversations, Description: "切换会话文件", Usage: "/conversations"},
		{Command: CommandDelete, Description: "按楼层号删除一条消息", Usage: "/delete <楼层号>"},
		{Command: CommandFloors, Description: "设置贴底时保留的楼层数", Usage: "/floors <数量>"},
		{Command: CommandClear, Description: "清空本地视图（不动服务端历史）", Usage: "/clear"},
		{Command: CommandStatus, Description: "查看连接与会话状态", Usage: "/status"},
		{Command: CommandPing, Description: "探活后端", Usage: "/ping"},
		{Command: CommandQuit, Description: "退出", Usage: "/quit"},
		{Command: CommandExit, Description: "退出", Usage: "/exit"},
	}
}
