package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"docrag/internal/apperr"
	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/ingest"
	"docrag/internal/loader"
	"docrag/internal/logging"
	"docrag/internal/retrieval"
	"docrag/internal/server"
	"docrag/internal/service"
	"docrag/internal/tui"
)

const usage = `Usage: rag [--config=config.yaml] <command> [flags] [args]

Commands:
  ingest    [--collection] [--chunk-size] [--chunk-overlap] [--mode] [--reset] <path|glob>...
  reindex   same as ingest with --reset
  search    [--collection] [--k] [--filename] [--filter=JSON] <query>
  query     [--collection] [--k] [--filename] [--filter=JSON] <question>
  ask       <question>
  documents [--collection]
  serve     [--addr]
  tui       [--collection] [--k] [--filename]
`

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/docrag/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}
	logger := logging.New(cfg.App.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		fatal(err)
	}
	defer a.Close()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		stop()
		a.Close()
		fatal(err)
	}
}

type app struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	svc     *service.RAGService
	closers []io.Closer
	out     io.Writer
	errOut  io.Writer
}

func newApp(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	emb, err := buildEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	completer, err := buildCompleter(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("chat init failed: %w", err)
	}
	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("vector store init failed: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, out: os.Stdout, errOut: os.Stderr, closers: []io.Closer{store}}
	if c, ok := emb.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.svc = service.NewRAGService(emb, completer, store, loader.New(), service.Options{
		Collection:     cfg.RAG.Collection,
		DefaultTopK:    cfg.RAG.DefaultTopK,
		MaxTopK:        cfg.RAG.MaxTopK,
		MaxQueryChars:  cfg.RAG.MaxQueryChars,
		DocumentsLimit: cfg.RAG.DocumentsLimit,
	}, logger)
	logger.Debug("components ready",
		"embedder", emb.Name(),
		"completer", completer.Name(),
		"vector_store", cfg.VectorStore.Type,
	)
	return a, nil
}

// Close releases the store and embedder. Safe to call twice.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "ingest":
		return a.ingest(ctx, args, false)
	case "reindex":
		return a.ingest(ctx, args, true)
	case "search":
		return a.search(ctx, args)
	case "query":
		return a.query(ctx, args)
	case "ask":
		return a.ask(ctx, args)
	case "documents":
		return a.documents(ctx, args)
	case "serve":
		return a.serve(ctx, args)
	case "tui":
		return a.tui(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) ingest(ctx context.Context, args []string, reset bool) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	collection := fs.String("collection", "", "Target collection (default from config)")
	size := fs.Int("chunk-size", a.cfg.Chunker.ChunkSize, "Chunk size in words (word budget in semantic mode)")
	overlap := fs.Int("chunk-overlap", a.cfg.Chunker.ChunkOverlap, "Chunk overlap in words (seed words in semantic mode)")
	mode := fs.String("mode", a.cfg.Chunker.Mode, "Chunking mode: fixed or semantic")
	fs.BoolVar(&reset, "reset", reset, "Drop the collection before ingesting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return apperr.Invalid("ingest", "at least one path or glob is required")
	}
	m, err := chunker.ParseMode(*mode)
	if err != nil {
		return err
	}
	res, err := a.svc.Ingest(ctx, ingest.Request{
		Patterns:     fs.Args(),
		Collection:   *collection,
		ChunkSize:    *size,
		ChunkOverlap: *overlap,
		Mode:         m,
		Reset:        reset,
	})
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Fprintf(a.out, "%s  %d chunks\n", f.Path, f.Chunks)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(a.out, "%s  %s\n", s, color.YellowString("skipped (no text)"))
	}
	fmt.Fprintln(a.out, color.GreenString("Ingested %d chunks into %q", res.Total, res.Collection))
	return nil
}

type queryFlags struct {
	collection string
	k          int
	filename   string
	filter     string
}

func (a *app) parseQuery(name string, args []string) (queryFlags, string, error) {
	var q queryFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&q.collection, "collection", "", "Collection to search (default from config)")
	fs.IntVar(&q.k, "k", 0, "Number of chunks to retrieve (default from config)")
	fs.StringVar(&q.filename, "filename", "", "Restrict to one file name")
	fs.StringVar(&q.filter, "filter", "", `Metadata filter as JSON, e.g. '{"page":{"$gte":2}}'`)
	if err := fs.Parse(args); err != nil {
		return q, "", err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return q, "", apperr.Invalid(name, "a query is required")
	}
	return q, text, nil
}

func (q queryFlags) rawFilter() (map[string]any, error) {
	if q.filter == "" {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(q.filter), &raw); err != nil {
		return nil, apperr.Invalid("filter", "not a JSON object: %v", err)
	}
	return raw, nil
}

func (a *app) search(ctx context.Context, args []string) error {
	q, text, err := a.parseQuery("search", args)
	if err != nil {
		return err
	}
	raw, err := q.rawFilter()
	if err != nil {
		return err
	}
	chunks, err := a.svc.Search(ctx, retrieval.Query{
		Text:       text,
		Collection: q.collection,
		K:          q.k,
		Filename:   q.filename,
		Filter:     raw,
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Fprintln(a.out, "No results.")
		return nil
	}
	for i, c := range chunks {
		fmt.Fprintf(a.out, "%s %s (distance=%.3f)\n%s\n\n",
			color.CyanString("[%d]", i), c.Metadata.Filename, c.Score, strings.TrimSpace(c.Text))
	}
	return nil
}

func (a *app) query(ctx context.Context, args []string) error {
	q, text, err := a.parseQuery("query", args)
	if err != nil {
		return err
	}
	raw, err := q.rawFilter()
	if err != nil {
		return err
	}
	ans, err := a.svc.Answer(ctx, service.AnswerRequest{
		Question:   text,
		TopK:       q.k,
		Filename:   q.filename,
		Filter:     raw,
		Collection: q.collection,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, ans.Answer)
	if ans.Summary != nil {
		fmt.Fprintf(a.out, "\n%s\n%s\n", color.New(color.Bold).Sprint("Summary:"), *ans.Summary)
	}
	if len(ans.Sources) > 0 {
		fmt.Fprintf(a.out, "\n%s\n", color.New(color.Bold).Sprint("Sources:"))
		for i, c := range ans.Sources {
			page := ""
			if c.Metadata.Page != nil {
				page = fmt.Sprintf(" page %d", *c.Metadata.Page)
			}
			fmt.Fprintf(a.out, "  [%d] %s%s\n", i, c.Metadata.Filename, page)
		}
	}
	return nil
}

func (a *app) ask(ctx context.Context, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	out, err := a.svc.Ask(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, out)
	return nil
}

func (a *app) documents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("documents", flag.ContinueOnError)
	collection := fs.String("collection", "", "Collection to list (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	docs, err := a.svc.ListDocuments(ctx, *collection)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.Server.Addr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	srv := server.New(a.svc, server.Defaults{
		ChunkSize:    a.cfg.Chunker.ChunkSize,
		ChunkOverlap: a.cfg.Chunker.ChunkOverlap,
		Mode:         chunker.Mode(a.cfg.Chunker.Mode),
	}, a.logger)
	return srv.ListenAndServe(ctx, *addr, secs(a.cfg.Server.ReadTimeoutSecs), secs(a.cfg.Server.WriteTimeoutSecs))
}

func (a *app) tui(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ContinueOnError)
	collection := fs.String("collection", "", "Collection to query (default from config)")
	k := fs.Int("k", 0, "Number of chunks to retrieve (default from config)")
	filename := fs.String("filename", "", "Restrict to one file name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m := tui.New(ctx, a.svc, tui.Options{Collection: *collection, TopK: *k, Filename: *filename})
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func fatal(err error) {
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
	os.Exit(1)
}
