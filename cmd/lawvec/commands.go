package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/filestore"
	"github.com/a921198345/studypartner007-sub000/internal/job"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	"github.com/a921198345/studypartner007-sub000/internal/schedule"
	"github.com/a921198345/studypartner007-sub000/internal/service"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create or adapt the chunk schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, func(ctx context.Context, cfg *config.Config, engine *service.Engine) error {
				count, err := engine.Count(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"storage": engine.Store().Name(),
					"model":   engine.ModelName(),
					"count":   count,
				})
			})
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "embed and store segmented chunks from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			reqs, err := parseIngestRequests(raw)
			if err != nil {
				return err
			}
			return withEngine(cmd, opts, func(ctx context.Context, cfg *config.Config, engine *service.Engine) error {
				archive, err := filestore.New(cfg.Archive)
				if err != nil {
					return fmt.Errorf("init archive: %w", err)
				}
				archiver := service.NewArchiver(archive)
				for _, req := range reqs {
					report, err := engine.Ingest(ctx, req)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", req.DocumentID, err)
					}
					if err := archiver.Archive(ctx, req, report); err != nil {
						logutil.GetLogger(ctx).Warn("archive ingest request failed", zap.String("doc_id", report.DocumentID), zap.Error(err))
					}
					if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON ingest request or array of requests, - for stdin")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		query   string
		topK    int
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "search stored chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" && len(args) > 0 {
				query = strings.Join(args, " ")
			}
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("--query is required")
			}
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			return withEngine(cmd, opts, func(ctx context.Context, cfg *config.Config, engine *service.Engine) error {
				results, err := engine.Search(ctx, query, topK, parsed)
				if err != nil {
					return err
				}
				return writeResults(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "query text")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results, 0 uses search.default_top_k")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "metadata filter column=value, repeatable")
	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "print the number of stored chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, func(ctx context.Context, cfg *config.Config, engine *service.Engine) error {
				count, err := engine.Count(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"count": count})
			})
		},
	}
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		topK    int
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "answer queries read line by line from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			return withEngine(cmd, opts, func(ctx context.Context, cfg *config.Config, engine *service.Engine) error {
				scheduler := schedule.NewCronScheduler()
				if err := scheduler.AddJob(job.NewIndexRefreshJob(engine), cfg.Index.RefreshCron); err != nil {
					return err
				}
				if cfg.Embedding.PersistCache {
					cleanup := job.NewEmbeddingCacheCleanupJob(engine.Store().EmbeddingCache(), cfg.Embedding.CacheMaxAgeDays)
					if err := scheduler.AddJob(cleanup, cfg.Embedding.CacheCleanupCron); err != nil {
						return err
					}
				}
				scheduler.Start(ctx)
				defer scheduler.Stop()

				if err := engine.Refresh(ctx); err != nil {
					logutil.GetLogger(ctx).Warn("initial index build failed, queries start on keyword search", zap.Error(err))
				}
				return queryLoop(ctx, engine, cmd.InOrStdin(), cmd.OutOrStdout(), topK, parsed)
			})
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results per query, 0 uses search.default_top_k")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "metadata filter column=value applied to every query")
	return cmd
}

type searcher interface {
	Search(ctx context.Context, query string, topK int, filters model.Filters) ([]*model.RankedResult, error)
}

// queryLoop answers one query per input line until EOF or cancellation.
// Blank lines are ignored.
func queryLoop(ctx context.Context, engine searcher, in io.Reader, out io.Writer, topK int, filters model.Filters) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		results, err := engine.Search(ctx, line, topK, filters)
		if err != nil {
			return err
		}
		if err := writeJSON(out, map[string]interface{}{"query": line, "results": results}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseFilters(items []string) (model.Filters, error) {
	if len(items) == 0 {
		return nil, nil
	}
	filters := make(model.Filters, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, want column=value", item)
		}
		if !model.IsFilterColumn(key) {
			return nil, fmt.Errorf("unsupported filter column %q", key)
		}
		filters[key] = strings.TrimSpace(value)
	}
	return filters, nil
}

// parseIngestRequests accepts a single request object or an array of them.
func parseIngestRequests(raw []byte) ([]*model.IngestRequest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty ingest input")
	}
	if raw[0] == '[' {
		var reqs []*model.IngestRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("decode ingest requests: %w", err)
		}
		for i, req := range reqs {
			if req == nil {
				return nil, fmt.Errorf("ingest request %d is null", i)
			}
		}
		return reqs, nil
	}
	var req model.IngestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode ingest request: %w", err)
	}
	return []*model.IngestRequest{&req}, nil
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func writeResults(w io.Writer, results []*model.RankedResult) error {
	for _, r := range results {
		if err := writeJSON(w, r); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
