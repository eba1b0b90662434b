// Package knowledge 为 research 类能力提供协议知识检索。
// 检索结果按相关度排序后注入提示词，数据源是静态 JSON 文件，
// 不依赖外部向量库。
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Provider 定义协议知识检索的通用接口。
// research 类 agent 在生成提示词时引用检索结果。
type Provider interface {
	Query(task, action string) []Card
}

// Card 描述一段可供 agent 引用的协议知识。
type Card struct {
	Title    string   `json:"title"`
	Protocol string   `json:"protocol"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 对内存中的知识卡片做关键词打分检索。
type StaticProvider struct {
	cards      []Card
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(cards []Card, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		cards:      cards,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识卡片。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("打开知识库文件失败: %w", err)
	}
	defer file.Close()

	var cards []Card
	if err := json.NewDecoder(file).Decode(&cards); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(cards, maxResults), nil
}

// Query 对任务描述与步骤动作做打分检索，命中分最高的卡片
// 排在前面。打分规则：关键词命中计 2 分，标签命中计 1 分，
// 协议名出现在任务里再加 1 分；没有关键词和标签的卡片视为
// 通用知识，以最低分兜底命中。
func (p *StaticProvider) Query(task, action string) []Card {
	if p == nil || len(p.cards) == 0 {
		return nil
	}

	haystack := strings.ToLower(strings.TrimSpace(task)) + " " + strings.ToLower(strings.TrimSpace(action))

	type scored struct {
		card  Card
		score int
		index int
	}
	matched := make([]scored, 0, len(p.cards))
	for i, card := range p.cards {
		score := scoreCard(card, haystack)
		if score > 0 {
			matched = append(matched, scored{card: card, score: score, index: i})
		}
	}

	// 分数相同的按声明顺序排，结果稳定可复现。
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		return matched[i].index < matched[j].index
	})

	limit := p.maxResults
	if limit > len(matched) {
		limit = len(matched)
	}
	results := make([]Card, 0, limit)
	for _, m := range matched[:limit] {
		results = append(results, m.card)
	}
	return results
}

func scoreCard(card Card, haystack string) int {
	if len(card.Keywords) == 0 && len(card.Tags) == 0 {
		return 1
	}

	score := 0
	for _, keyword := range card.Keywords {
		if term := strings.ToLower(strings.TrimSpace(keyword)); term != "" && strings.Contains(haystack, term) {
			score += 2
		}
	}
	for _, tag := range card.Tags {
		if term := strings.ToLower(strings.TrimSpace(tag)); term != "" && strings.Contains(haystack, term) {
			score++
		}
	}
	if score > 0 && card.Protocol != "" && strings.Contains(haystack, strings.ToLower(card.Protocol)) {
		score++
	}
	return score
}

var _ Provider = (*StaticProvider)(nil)
