package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	"github.com/a921198345/studypartner007-sub000/internal/service"
	"github.com/a921198345/studypartner007-sub000/internal/testutil"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    model.Filters
		wantErr bool
	}{
		{name: "none", in: nil, want: nil},
		{name: "single", in: []string{"law_name=民法"}, want: model.Filters{"law_name": "民法"}},
		{name: "trimmed", in: []string{" chapter = 合同 ", "article=第1条"}, want: model.Filters{"chapter": "合同", "article": "第1条"}},
		{name: "empty value", in: []string{"book="}, want: model.Filters{"book": ""}},
		{name: "missing separator", in: []string{"law_name"}, wantErr: true},
		{name: "missing key", in: []string{"=民法"}, wantErr: true},
		{name: "unknown column", in: []string{"vector_embedding=x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFilters(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseIngestRequests(t *testing.T) {
	single := `{"document_id":"doc1","texts":["甲乙签订买卖合同"],"metadata":[{"chapter":"买卖合同","token_count":8}],"subject_area":"民法"}`
	reqs, err := parseIngestRequests([]byte(single))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "doc1", reqs[0].DocumentID)
	require.Equal(t, "买卖合同", reqs[0].Metadata[0].Chapter)
	require.Equal(t, 8, reqs[0].Metadata[0].TokenCount)

	reqs, err = parseIngestRequests([]byte("\n[" + single + "," + single + "]"))
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	_, err = parseIngestRequests([]byte("   "))
	require.Error(t, err)
	_, err = parseIngestRequests([]byte("{"))
	require.Error(t, err)
	_, err = parseIngestRequests([]byte("[" + single + ",null]"))
	require.Error(t, err)
}

func TestQueryLoop(t *testing.T) {
	store := testutil.OpenStore(t, testutil.SQLiteConfig(t, 100))
	engine := service.NewEngineWith(store, ai.NewEmbedder(nil, ai.EmbedderConfig{Dimension: 64}), service.EngineOptions{})
	ctx := context.Background()
	_, err := engine.Ingest(ctx, &model.IngestRequest{
		DocumentID:  "doc1",
		Texts:       []string{"甲乙签订买卖合同", "正当防卫的构成要件"},
		Metadata:    make([]model.ChunkMeta, 2),
		SubjectArea: "民法",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader("买卖合同纠纷\n\n正当防卫\n")
	require.NoError(t, queryLoop(ctx, engine, in, &out, 1, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first struct {
		Query   string                `json:"query"`
		Results []*model.RankedResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "买卖合同纠纷", first.Query)
	require.Len(t, first.Results, 1)
	require.Equal(t, "doc1_0", first.Results[0].Chunk.ChunkRef)
	require.Equal(t, model.MatchKeyword, first.Results[0].Method)
}

func TestQueryLoopStopsOnCancel(t *testing.T) {
	store := testutil.OpenStore(t, testutil.SQLiteConfig(t, 100))
	engine := service.NewEngineWith(store, ai.NewEmbedder(nil, ai.EmbedderConfig{Dimension: 8}), service.EngineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := queryLoop(ctx, engine, strings.NewReader("q\n"), &bytes.Buffer{}, 1, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRootCommandRequiresConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"count"})
	cmd.SetOut(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}
