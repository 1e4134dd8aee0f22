package keyword

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeMixedScripts(t *testing.T) {
	tok := NewTokenizer()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "han bigrams", in: "买卖合同纠纷", want: []string{"买卖", "卖合", "合同", "同纠", "纠纷"}},
		{name: "particles break bigrams", in: "正当防卫的构成要件", want: []string{"正当", "当防", "防卫", "构成", "成要", "要件"}},
		{name: "latin lowercased and stopwords removed", in: "The Contract of SALE", want: []string{"contract", "sale"}},
		{name: "script switch splits runs", in: "民法典第577条", want: []string{"民法", "法典", "典第", "577"}},
		{name: "single characters dropped", in: "x 法 y", want: nil},
		{name: "stop bigram", in: "什么", want: nil},
		{name: "empty", in: "  ，。 ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tok.Tokenize(tt.in))
		})
	}
}

func TestKeywordsDedupAndLimit(t *testing.T) {
	tok := NewTokenizer()
	require.Equal(t, []string{"合同", "解除", "除合"}, tok.Keywords("解除合同 合同", 3))
	require.Len(t, tok.Keywords("买卖合同纠纷", 0), 5)
	require.Empty(t, tok.Keywords("x", 10))
}

func TestScore(t *testing.T) {
	kws := NewTokenizer().Keywords("买卖合同纠纷", 10)
	require.InDelta(t, 0.6, Score("甲乙签订买卖合同", kws), 1e-9)
	require.Zero(t, Score("正当防卫的构成要件", kws))
	require.Equal(t, 1.0, Score("Sale CONTRACT", []string{"sale", "contract"}))
	require.Zero(t, Score("anything", nil))
}
