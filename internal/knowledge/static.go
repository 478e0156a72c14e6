package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed builtin.json
var builtinJSON []byte

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(text, skill string) []Snippet
}

// Snippet 描述可供大模型引用的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// Builtin 返回随二进制分发的 BNB Chain / ERC-8004 / x402 基础知识。
func Builtin(maxResults int) *StaticProvider {
	var entries []Snippet
	if err := json.Unmarshal(builtinJSON, &entries); err != nil {
		panic(fmt.Sprintf("内置知识库损坏: %v", err))
	}
	return NewStaticProvider(entries, maxResults)
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
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
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 按关键词命中数排序返回匹配的条目。标签只与 skill 比较。
func (p *StaticProvider) Query(text, skill string) []Snippet {
	if p == nil {
		return nil
	}

	text = strings.ToLower(strings.TrimSpace(text))
	skill = strings.ToLower(strings.TrimSpace(skill))

	type scored struct {
		snippet Snippet
		score   int
	}
	var hits []scored
	for _, item := range p.items {
		if s := score(item, text, skill); s > 0 {
			hits = append(hits, scored{snippet: item, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	results := make([]Snippet, 0, p.maxResults)
	for _, h := range hits {
		results = append(results, h.snippet)
		if len(results) >= p.maxResults {
			break
		}
	}
	return results
}

func score(snippet Snippet, text, skill string) int {
	total := 0
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized != "" && strings.Contains(text, normalized) {
			total += 2
		}
	}
	if skill == "" {
		return total
	}
	for _, tag := range snippet.Tags {
		if strings.ToLower(strings.TrimSpace(tag)) == skill {
			total++
		}
	}
	return total
}

var _ Provider = (*StaticProvider)(nil)
