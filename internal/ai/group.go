package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbedProviderEntry struct {
	Name     string
	Model    string
	Provider IEmbedProvider
}

// groupEmbedProvider tries each entry in order until one succeeds.
type groupEmbedProvider struct {
	items []EmbedProviderEntry
}

func NewGroupEmbedProvider(items []EmbedProviderEntry) IEmbedProvider {
	if len(items) == 0 {
		return nil
	}
	return &groupEmbedProvider{items: items}
}

func (g *groupEmbedProvider) Name() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name == "" {
			continue
		}
		names = append(names, item.Name)
	}
	return strings.Join(names, "|")
}

func (g *groupEmbedProvider) MaxBatchSize() int {
	size := 0
	for _, item := range g.items {
		if item.Provider == nil {
			continue
		}
		if n := item.Provider.MaxBatchSize(); n > 0 && (size == 0 || n < size) {
			size = n
		}
	}
	return size
}

// Embed ignores the model argument: each entry carries its own model.
func (g *groupEmbedProvider) Embed(ctx context.Context, _ string, texts []string, taskType string) ([][]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Provider == nil {
			continue
		}
		res, err := item.Provider.Embed(ctx, item.Model, texts, taskType)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embed provider failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embed provider not configured")
	}
	return nil, lastErr
}
