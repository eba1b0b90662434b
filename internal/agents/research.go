package agents

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"AgentFi-Mesh/internal/config"
	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/knowledge"
	"AgentFi-Mesh/internal/workflow"
)

const researchSystemPrompt = "你是 DeFi 协议研究员。基于给定的协议知识回答问题，" +
	"指出关键风险点，不编造链上数据。回答保持简短。"

// ResearchHandler 处理 research 能力：检索协议知识卡片，
// 交给大模型做尽调总结。知识卡片作为上下文拼进提示词，
// 模型不可用时直接降级为卡片摘要。
type ResearchHandler struct {
	client    *openai.Client
	model     string
	knowledge knowledge.Provider
}

// NewResearchHandler 按配置构造 ResearchHandler。
// cfg.Enabled 为 false 或缺少 API Key 时 client 为空，走降级路径。
func NewResearchHandler(cfg config.LLMConfig, provider knowledge.Provider) *ResearchHandler {
	h := &ResearchHandler{
		model:     cfg.Model,
		knowledge: provider,
	}
	if h.model == "" {
		h.model = openai.GPT4oMini
	}

	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if cfg.Enabled && apiKey != "" {
		clientCfg := openai.DefaultConfig(apiKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		h.client = openai.NewClientWithConfig(clientCfg)
	}
	return h
}

// Handle 实现 Handler。
func (h *ResearchHandler) Handle(ctx context.Context, step workflow.StepDef, input map[string]any) (*workflow.AgentResult, error) {
	task, _ := input["task"].(string)

	var cards []knowledge.Card
	if h.knowledge != nil {
		cards = h.knowledge.Query(task, step.Action)
	}
	sources := make([]string, 0, len(cards))
	for _, card := range cards {
		sources = append(sources, card.Title)
	}

	if h.client == nil {
		return h.fallback(step, cards, sources), nil
	}

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: h.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: researchSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildResearchPrompt(task, step, cards)},
		},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型调用失败")
	}
	if len(resp.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "大模型未返回任何结果")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	return &workflow.AgentResult{
		Success: true,
		Output:  content,
		Data: map[string]any{
			"summary": content,
			"sources": sources,
			"action":  step.Action,
		},
		TokensUsed: resp.Usage.TotalTokens,
		ToolsUsed:  []string{"llm", "knowledge_base"},
	}, nil
}

// fallback 在模型不可用时直接返回知识卡片摘要。
func (h *ResearchHandler) fallback(step workflow.StepDef, cards []knowledge.Card, sources []string) *workflow.AgentResult {
	var b strings.Builder
	if len(cards) == 0 {
		b.WriteString("知识库中没有匹配的协议资料。")
	}
	for _, card := range cards {
		fmt.Fprintf(&b, "%s: %s\n", card.Title, card.Content)
	}
	return &workflow.AgentResult{
		Success: true,
		Output:  strings.TrimSpace(b.String()),
		Data: map[string]any{
			"summary": strings.TrimSpace(b.String()),
			"sources": sources,
			"action":  step.Action,
		},
		ToolsUsed: []string{"knowledge_base"},
	}
}

func buildResearchPrompt(task string, step workflow.StepDef, cards []knowledge.Card) string {
	var b strings.Builder
	fmt.Fprintf(&b, "任务: %s\n本步骤: %s\n", task, step.Action)
	if len(cards) > 0 {
		b.WriteString("参考资料:\n")
		for _, card := range cards {
			fmt.Fprintf(&b, "- [%s] %s\n", card.Protocol, card.Content)
		}
	}
	b.WriteString("请给出尽调结论与主要风险。")
	return b.String()
}

var _ Handler = (*ResearchHandler)(nil)
