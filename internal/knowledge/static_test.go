package knowledge

import "testing"

func sampleCards() []Card {
	return []Card{
		{
			Title:    "Uniswap V3 滑点",
			Protocol: "uniswap",
			Content:  "集中流动性池在区间边缘滑点急剧放大。",
			Keywords: []string{"swap", "slippage"},
		},
		{
			Title:    "Aave 清算阈值",
			Protocol: "aave",
			Content:  "健康因子低于 1 即可被清算。",
			Keywords: []string{"liquidation", "deleverage"},
			Tags:     []string{"lending"},
		},
		{
			Title:    "通用 Gas 提示",
			Protocol: "ethereum",
			Content:  "高峰时段优先使用 EIP-1559 动态费率。",
		},
	}
}

func TestQueryMatchesKeywords(t *testing.T) {
	p := NewStaticProvider(sampleCards(), 3)
	cards := p.Query("swap 1 ETH for USDC", "execute_swap")
	if len(cards) == 0 {
		t.Fatal("expected at least one match")
	}
	if cards[0].Protocol != "uniswap" {
		t.Fatalf("expected uniswap card first, got %s", cards[0].Protocol)
	}
}

func TestQueryMatchesTagsWhenKeywordsMiss(t *testing.T) {
	p := NewStaticProvider(sampleCards(), 3)
	cards := p.Query("reduce lending exposure", "plan")
	found := false
	for _, c := range cards {
		if c.Protocol == "aave" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tag match failed: %+v", cards)
	}
}

func TestQueryHonorsMaxResults(t *testing.T) {
	p := NewStaticProvider(sampleCards(), 1)
	cards := p.Query("swap with slippage during liquidation", "execute")
	if len(cards) != 1 {
		t.Fatalf("expected 1 result, got %d", len(cards))
	}
}

func TestQueryRanksStrongerMatchesFirst(t *testing.T) {
	p := NewStaticProvider(sampleCards(), 3)
	cards := p.Query("deleverage aave position before liquidation", "plan")
	if len(cards) < 2 {
		t.Fatalf("expected several matches, got %d", len(cards))
	}
	if cards[0].Protocol != "aave" {
		t.Fatalf("expected aave card ranked first, got %s", cards[0].Protocol)
	}
}

func TestKeywordlessCardAlwaysMatches(t *testing.T) {
	p := NewStaticProvider(sampleCards(), 5)
	cards := p.Query("anything at all", "noop")
	found := false
	for _, c := range cards {
		if c.Protocol == "ethereum" {
			found = true
		}
	}
	if !found {
		t.Fatal("card without keywords should match any query")
	}
}
