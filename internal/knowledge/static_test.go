package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinQueryRanksByKeywordHits(t *testing.T) {
	p := Builtin(2)
	got := p.Query("How do I register an ERC-8004 identity and set the token URI?", "chat")
	if len(got) == 0 {
		t.Fatalf("期望命中知识条目")
	}
	if got[0].Title != "ERC-8004 Identity Registry" {
		t.Fatalf("排序错误: %+v", got[0])
	}
	if len(got) > 2 {
		t.Fatalf("结果数量超过上限: %d", len(got))
	}
}

func TestQueryWithoutMatchesReturnsEmpty(t *testing.T) {
	p := NewStaticProvider([]Snippet{{Title: "gas", Keywords: []string{"gas"}}}, 0)
	if got := p.Query("hello there", ""); len(got) != 0 {
		t.Fatalf("不应命中: %+v", got)
	}
	var nilProvider *StaticProvider
	if got := nilProvider.Query("gas", ""); got != nil {
		t.Fatalf("nil provider 应返回 nil")
	}
}

func TestLoadStaticProvider(t *testing.T) {
	if _, err := LoadStaticProvider(" ", 3); err == nil {
		t.Fatalf("空路径应报错")
	}
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(`[{"title":"fees","content":"low","keywords":["fee"],"tags":["bridge"]}]`), 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	p, err := LoadStaticProvider(path, 3)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if got := p.Query("what fee applies", ""); len(got) != 1 {
		t.Fatalf("关键词应命中: %+v", got)
	}
	if got := p.Query("nothing", "bridge"); len(got) != 1 {
		t.Fatalf("标签应命中: %+v", got)
	}
}
