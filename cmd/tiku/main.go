// Package main is the tiku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tiku/internal/app"
	"github.com/hyperjump/tiku/internal/cli"
	"github.com/hyperjump/tiku/internal/config"
	"github.com/hyperjump/tiku/internal/fileid"
	"github.com/hyperjump/tiku/internal/generate"
	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/internal/server"
	"github.com/hyperjump/tiku/internal/watcher"
	"github.com/hyperjump/tiku/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tiku/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// errUnreachable marks HTTP calls that never reached a server, so commands
// can fall back to opening the stores directly.
var errUnreachable = errors.New("server unreachable")

// loadConfig loads config from path and overlays the environment. When path
// is the default, config.yaml in the current directory wins if it exists, and
// a missing default file means built-in defaults. Returns the config and the
// path that was actually loaded (for saving watch roots).
func loadConfig(path string) (*config.Config, string, error) {
	resolved := path
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				resolved = fallback
			}
		}
	}
	var cfg *config.Config
	if _, err := os.Stat(resolved); resolved == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		resolved = ""
	} else {
		loaded, err := config.Load(resolved)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	}
	if err := config.LoadEnv(cfg); err != nil {
		return nil, "", err
	}
	return cfg, resolved, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ocr":
		runOCR()
	case "kg":
		runKG()
	case "search":
		runSearch()
	case "generate":
		runGenerate()
	case "delete":
		runDelete()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "tasks":
		runTasks()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("tiku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// session is what a direct-mode command needs: config, logger and components.
type session struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	comps      *app.Components
}

func (s *session) close() {
	if s.comps != nil {
		s.comps.Close()
	}
	_ = s.logger.Sync()
}

func openSession(configPath string, debug bool) *session {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	comps, err := app.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return &session{cfg: cfg, configPath: resolved, logger: logger, comps: comps}
}

func exitOn(err error, what string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func parseFormat(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text", "":
		return cli.OutputText
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", s)
		os.Exit(1)
		return ""
	}
}

func parseSourceType(s string) models.SourceType {
	if s == "" {
		return ""
	}
	st, err := models.ParseSourceType(s)
	exitOn(err, "Invalid source type")
	return st
}

func printProgress(done, total int, message string) {
	fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", done, total, message)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	s := openSession(*configPath, *debug)
	defer s.close()
	cfg, logger := s.cfg, s.logger
	logger.Info("config loaded", zap.String("config_path", s.configPath), zap.Bool("debug", cfg.Debug || *debug))

	watchSvc := watcher.New(watcher.Options{
		Roots:      cfg.Watch.Directories,
		Extensions: cfg.Watch.Extensions,
		Recursive:  cfg.Watch.RecursiveOrDefault(),
		Ignore:     []string{cfg.OCR.WorkDir, cfg.Storage.DataDir},
	}, s.comps, watcher.WithLogger(logger))
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(s.comps, server.WithWatch(watchSvc, s.configPath), server.WithLogger(logger))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	docID := fs.String("doc-id", "", "document id (default: derived from the file path)")
	sourceType := fs.String("source-type", "", "textbook or slides (default: from the extension)")
	resume := fs.Bool("resume", true, "reuse completed OCR page ranges")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tiku ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	format := parseFormat(*outputFormat)
	st := parseSourceType(*sourceType)

	s := openSession(*configPath, false)
	defer s.close()
	ctx := context.Background()

	info, err := os.Stat(path)
	exitOn(err, "Failed to stat path")
	if info.IsDir() {
		n, err := s.comps.IngestDirectory(ctx, path, s.cfg.Watch.Extensions)
		exitOn(err, "Ingesting directory failed")
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}
	res, err := s.comps.IngestFile(ctx, path, app.FileOptions{
		DocID:      *docID,
		SourceType: st,
		Resume:     *resume,
		Progress:   printProgress,
	})
	exitOn(err, "Ingest failed")
	if format == cli.OutputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(res)
		return
	}
	fmt.Printf("Document ingested: %s (%s, %d chunks)\n", res.DocID, res.SourceType, res.Chunks)
	if res.Markdown != "" {
		fmt.Printf("Markdown: %s\n", res.Markdown)
	}
}

func runOCR() {
	fs := flag.NewFlagSet("ocr", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	docID := fs.String("doc-id", "", "document id, names the output directory")
	sourceType := fs.String("source-type", "", "textbook or slides (default: from the extension)")
	resume := fs.Bool("resume", true, "reuse completed page ranges")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tiku ocr [flags] <pdf-or-deck>")
		os.Exit(1)
	}
	s := openSession(*configPath, false)
	defer s.close()

	_, mdPath, err := s.comps.ConvertFile(context.Background(), fs.Arg(0), app.FileOptions{
		DocID:      *docID,
		SourceType: parseSourceType(*sourceType),
		Resume:     *resume,
		Progress:   printProgress,
	})
	exitOn(err, "OCR failed")
	fmt.Println(mdPath)
}

func runKG() {
	fs := flag.NewFlagSet("kg", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	docID := fs.String("doc-id", "", "document id (default: derived from the file path)")
	sourceType := fs.String("source-type", "", "textbook or slides")
	direct := fs.Bool("direct", false, "write into the KG-only store")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 && *docID == "" {
		fmt.Println("Usage: tiku kg [flags] <markdown-file>")
		fmt.Println("       tiku kg --doc-id <id>          # rebuild from stored chunks")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	st := parseSourceType(*sourceType)

	s := openSession(*configPath, false)
	defer s.close()
	ctx := context.Background()

	var md string
	id := *docID
	if fs.NArg() > 0 {
		abs, err := filepath.Abs(fs.Arg(0))
		exitOn(err, "Invalid path")
		if id == "" {
			id = fileid.DocID(abs)
		}
		if st == "" {
			st = fileid.SourceTypeFor(abs)
		}
		md, _, err = s.comps.ConvertFile(ctx, abs, app.FileOptions{DocID: id, SourceType: st, Resume: true, Progress: printProgress})
		exitOn(err, "Reading document failed")
	} else {
		var err error
		md, st, err = s.comps.DocumentMarkdown(ctx, id)
		exitOn(err, "Reading stored chunks failed")
	}

	report, err := s.comps.ExtractKG(ctx, id, st, md, *direct, printProgress)
	exitOn(err, "KG extraction failed")
	if format == cli.OutputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(report)
		return
	}
	fmt.Printf("%s: %d chapters, %d concepts, %d relations\n", report.DocID, report.Chapters, report.Concepts, report.Relations)
	for _, f := range report.Failed {
		fmt.Printf("  failed: %s\n", f)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tiku search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results fuse dense and sparse rankings; neighbors of each hit are added
unless --expand=false.

Examples:
  tiku search 均衡价格
  tiku search --top-n 10 --source-type textbook "price elasticity"
  tiku search --doc-id econ --chapter 2 生产函数
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchConfigPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func searchConfigPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// searchTopNDefaultFromConfig returns the configured default result count,
// or 6 when the config cannot be loaded.
func searchTopNDefaultFromConfig(path string) int {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil || cfg.Search.DefaultTopN <= 0 {
		return 6
	}
	return cfg.Search.DefaultTopN
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front so that flag.Parse() sees them.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	configPath := searchConfigPathFromArgs(searchArgs, defaultConfigPath)

	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the stores directly)")
	topN := fs.Int("top-n", searchTopNDefaultFromConfig(configPath), "number of results")
	docIDs := fs.String("doc-id", "", "comma-separated document ids to search")
	sourceType := fs.String("source-type", "", "textbook or slides")
	chapter := fs.Int("chapter", 0, "chapter number (textbooks only)")
	expand := fs.Bool("expand", true, "add neighboring chunks of each hit")
	rerank := fs.Bool("rerank", true, "use the configured reranker")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	query := &models.SearchQuery{Query: queryStr, TopN: *topN, Expand: expand, Rerank: rerank}
	filters := &models.Filters{DocIDs: splitList(*docIDs), SourceType: parseSourceType(*sourceType)}
	if *chapter > 0 {
		filters.ChapterNum = chapter
	}
	if len(filters.DocIDs) > 0 || filters.SourceType != "" || filters.ChapterNum != nil {
		query.Filters = filters
	}

	var response models.SearchResponse
	err := errUnreachable
	if *serverURL != "" {
		err = callAPI(http.MethodPost, *serverURL+"/api/v1/search", query, &response)
	}
	if errors.Is(err, errUnreachable) {
		s := openSession(*configPathFlag, false)
		defer s.close()
		var resp *models.SearchResponse
		resp, err = s.comps.Retriever.Search(context.Background(), query)
		if resp != nil {
			response = *resp
		}
	}
	exitOn(err, "Search failed")
	exitOn(cli.WriteSearchResults(os.Stdout, &response, format), "Output failed")
}

// generateBody is the POST /api/v1/generate payload.
type generateBody struct {
	generate.Request
	Direct bool `json:"direct,omitempty"`
}

func runGenerate() {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the stores directly)")
	templatePath := fs.String("template", "", "prompt template file with {context} and {question_list}")
	questions := fs.String("questions", "", "question list, e.g. \"单选题 5 道，判断题 3 道\"")
	mode := fs.String("mode", "", "rag or kg (default from config)")
	docIDs := fs.String("doc-id", "", "comma-separated document ids")
	chapters := fs.String("chapters", "", "comma-separated chapter names (kg mode)")
	kps := fs.String("kp", "", "comma-separated knowledge points (kg mode)")
	direct := fs.Bool("direct", false, "read concepts from the KG-only store")
	maxTokens := fs.Int("max-tokens", 0, "completion token limit (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *templatePath == "" || strings.TrimSpace(*questions) == "" {
		fmt.Println("Usage: tiku generate --template <file> --questions <list> [flags]")
		os.Exit(1)
	}
	tmpl, err := os.ReadFile(*templatePath)
	exitOn(err, "Failed to read template")
	format := parseFormat(*outputFormat)

	body := generateBody{
		Request: generate.Request{
			Template:        string(tmpl),
			QuestionList:    *questions,
			Mode:            generate.Mode(*mode),
			DocIDs:          splitList(*docIDs),
			Chapters:        splitList(*chapters),
			KnowledgePoints: splitList(*kps),
			MaxTokens:       *maxTokens,
		},
		Direct: *direct,
	}
	if body.Mode != "" {
		_, err := generate.ParseMode(string(body.Mode))
		exitOn(err, "Invalid mode")
	}

	var result generate.Result
	err = errUnreachable
	if *serverURL != "" {
		err = callAPI(http.MethodPost, *serverURL+"/api/v1/generate", body, &result)
	}
	if errors.Is(err, errUnreachable) {
		s := openSession(*configPath, false)
		defer s.close()
		req := body.Request
		if req.Mode == "" {
			req.Mode = generate.Mode(s.cfg.Generate.Mode)
		}
		orch := s.comps.Generator
		if body.Direct {
			orch, req.Mode = s.comps.Direct, generate.ModeKG
		}
		var res *generate.Result
		res, err = orch.Generate(context.Background(), &req)
		if res != nil {
			result = *res
		}
	}
	exitOn(err, "Generation failed")
	exitOn(cli.WriteGeneration(os.Stdout, &result, format), "Output failed")
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the stores directly)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tiku delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	err := errUnreachable
	if *serverURL != "" {
		err = callAPI(http.MethodDelete, *serverURL+"/api/v1/documents/"+url.PathEscape(docID), nil, nil)
	}
	if errors.Is(err, errUnreachable) {
		s := openSession(*configPath, false)
		defer s.close()
		err = s.comps.DeleteDocument(context.Background(), docID)
	}
	exitOn(err, "Deletion failed")
	fmt.Printf("Document deleted: %s\n", docID)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the stores directly)")
	_ = fs.Parse(os.Args[2:])

	err := errUnreachable
	if *serverURL != "" {
		err = callAPI(http.MethodPost, *serverURL+"/api/v1/rebuild", nil, nil)
	}
	if errors.Is(err, errUnreachable) {
		s := openSession(*configPath, false)
		defer s.close()
		err = s.comps.Indexer.Rebuild(context.Background())
	}
	exitOn(err, "Rebuild failed")
	fmt.Println("Sparse index rebuilt from the chunk table")
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = open the stores directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status app.Status
	err := errUnreachable
	if *serverURL != "" {
		err = callAPI(http.MethodGet, *serverURL+"/api/v1/status", nil, &status)
	}
	if errors.Is(err, errUnreachable) {
		s := openSession(*configPath, false)
		defer s.close()
		var st *app.Status
		st, err = s.comps.Status(context.Background())
		if st != nil {
			status = *st
		}
	}
	exitOn(err, "Status failed")
	exitOn(cli.WriteStatus(os.Stdout, &status, format), "Output failed")
}

func runTasks() {
	fs := flag.NewFlagSet("tasks", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	if fs.NArg() > 0 {
		var task models.Task
		exitOn(callAPI(http.MethodGet, *serverURL+"/api/v1/tasks/"+url.PathEscape(fs.Arg(0)), nil, &task), "Task lookup failed")
		exitOn(cli.WriteTasks(os.Stdout, []*models.Task{&task}, format), "Output failed")
		return
	}
	var out struct {
		Tasks []*models.Task `json:"tasks"`
	}
	exitOn(callAPI(http.MethodGet, *serverURL+"/api/v1/tasks", nil, &out), "Listing tasks failed")
	exitOn(cli.WriteTasks(os.Stdout, out.Tasks, format), "Output failed")
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tiku watch <add|remove|list> [path]")
		fmt.Println("  tiku watch add <path>     Add a drop folder")
		fmt.Println("  tiku watch remove <path>  Remove a drop folder")
		fmt.Println("  tiku watch list           List drop folders")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	endpoint := *serverURL + "/api/v1/watch/directories"

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tiku watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		exitOn(callAPI(http.MethodPost, endpoint, map[string]any{"path": path, "sync": true}, nil), "Add failed")
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tiku watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		exitOn(callAPI(http.MethodDelete, endpoint+"?path="+url.QueryEscape(path), nil, nil), "Remove failed")
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		exitOn(callAPI(http.MethodGet, endpoint, nil, &out), "List failed")
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// callAPI sends body as JSON and decodes a 2xx response into out. Transport
// failures wrap errUnreachable.
func callAPI(method, endpoint string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, endpoint, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`tiku - exam-authoring retrieval core for textbooks and slide decks

Usage:
  tiku server [flags]                 Start the HTTP server and drop-folder watcher
  tiku ingest [flags] <file-or-dir>   OCR (when needed), chunk and index documents
  tiku ocr [flags] <pdf-or-deck>      Convert a PDF or deck to Markdown only
  tiku kg [flags] <markdown-file>     Extract the knowledge graph of a document
  tiku search [flags] <query>         Hybrid dense + sparse search
  tiku generate [flags]               Fill a question template with retrieved context
  tiku delete [flags] <doc-id>        Delete a document from every store
  tiku rebuild [flags]                Rebuild the sparse index from the chunk table
  tiku status [flags]                 Show store counts and configured services
  tiku tasks [flags] [task-id]        Show background OCR and KG tasks
  tiku watch <add|remove|list>        Manage drop folders
  tiku version                        Show version
  tiku help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/tiku/config.yaml, or ./config.yaml)
  --server string    Server URL (default: http://localhost:8080). Commands fall back to opening
                     the stores directly when no server answers; use --server "" to force that.
  --output string    Output format: text or json (default: text)

Credentials come from the environment or .env:
  LLM_API_KEY        chat model used by kg and generate
  OCR_API_TOKEN      layout-parsing service used for PDFs and decks

Examples:
  tiku server --debug
  tiku ingest ~/courses/microeconomics.pdf
  tiku ingest --source-type slides lecture01.pptx
  tiku kg --doc-id microeconomics-1a2b3c4d
  tiku search --top-n 8 均衡价格
  tiku generate --template exam.txt --questions "单选题 5 道，判断题 3 道" --doc-id econ
  tiku generate --template exam.txt --questions "简答题 2 道" --mode kg --chapters "第一章 市场与价格"
  tiku watch add ~/courses/drop`)
}
