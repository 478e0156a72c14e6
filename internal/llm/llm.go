package llm

import "context"

// Role 是对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    Role
	Content string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Request 描述一次对话补全请求。Messages 按时间顺序排列，最后一条通常是用户输入。
type Request struct {
	System    string
	Messages  []Message
	Knowledge []KnowledgeCard
}

// Response 是大模型返回的回复。
type Response struct {
	Content string
	Model   string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 让普通函数满足 Client，主要用于测试。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Chat 实现 Client。
func (f ClientFunc) Chat(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
