// Package main is the dermamatch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/cli"
	"github.com/hyperjump/dermamatch/internal/config"
	"github.com/hyperjump/dermamatch/internal/corpus"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/search"
	"github.com/hyperjump/dermamatch/internal/server"
	"github.com/hyperjump/dermamatch/internal/storage"
	"github.com/hyperjump/dermamatch/internal/vector"
	"github.com/hyperjump/dermamatch/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/dermamatch/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// loadConfig loads config from path. When path is the default and config.yaml exists in
// the current directory, that file is used instead so a checkout runs with its own config.
// A missing default config is not an error: built-in defaults apply.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	var err error
	switch command {
	case "server":
		err = runServer(os.Args[2:])
	case "search":
		err = runSearch(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "rebuild":
		err = runRebuild(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("dermamatch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every command.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger := utils.NewLoggerOrNop(debugMode)
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, nil
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger, err := setup(*configPath, *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A failed first build leaves the engine unavailable (503) until a later rebuild succeeds.
	if report, err := components.Engine.Rebuild(ctx); err != nil {
		logger.Warn("initial rebuild failed", zap.Error(err))
	} else {
		logger.Info("index built",
			zap.Int("indexed", report.IndexedRecords),
			zap.Int("skipped", report.SkippedRecords),
			zap.Int64("duration_ms", report.Duration),
		)
	}

	var corpusWatch server.CorpusWatcher
	w, err := corpusWatcher(cfg, components, logger)
	if err != nil {
		return fmt.Errorf("failed to create corpus watcher: %w", err)
	}
	if w != nil {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start corpus watcher: %w", err)
		}
		defer w.Stop()
		corpusWatch = w
	}

	// Imports land in the case database, which only feeds the index for the sqlite source.
	importer := components.Importer
	if cfg.Corpus.Source == corpus.SourceFile {
		importer = nil
	}
	srv := server.NewServer(components.Engine, importer, components.Storage, cfg, corpusWatch, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: dermamatch search [flags] <query.json | ->\n\n")
	fmt.Fprintf(fs.Output(), "The query file holds raw_features, demographics and optional k/filters; \"-\" reads stdin.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  dermamatch search query.json
  dermamatch search --k 5 --condition "acne vulgaris" query.json
  dermamatch search --explain --output json query.json
  cat query.json | dermamatch search --server "" -
`)
}

// searchArgsReorder moves flags ahead of positional arguments so that
// "search query.json --k 5" parses the same as "search --k 5 query.json".
func searchArgsReorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-" || !strings.HasPrefix(a, "-") {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		if strings.Contains(a, "=") || isBoolFlag(a) {
			continue
		}
		if i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(a string) bool {
	switch strings.TrimLeft(a, "-") {
	case "explain", "debug":
		return true
	}
	return false
}

// readQuery decodes a search query from path, or from stdin when path is "-".
func readQuery(path string, stdin io.Reader) (*models.SearchQuery, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var q models.SearchQuery
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("invalid query file: %w", err)
	}
	return &q, nil
}

// applySearchFlags overrides query fields with the flags that were set.
func applySearchFlags(q *models.SearchQuery, k int, condition string, explain bool) {
	if k > 0 {
		q.K = k
	}
	if strings.TrimSpace(condition) != "" {
		q.Filters = &models.Filters{ConditionLabel: condition}
	}
	if explain {
		q.Explain = true
	}
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = build the index in-process)")
	k := fs.Int("k", 0, "number of results (0 = query file or configured default)")
	condition := fs.String("condition", "", "only return cases with this condition label")
	explain := fs.Bool("explain", false, "include the per-field score breakdown")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(args))

	if fs.NArg() != 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	query, err := readQuery(fs.Arg(0), os.Stdin)
	if err != nil {
		return err
	}
	applySearchFlags(query, *k, *condition, *explain)

	var response *models.SearchResponse
	if *serverURL != "" {
		response = &models.SearchResponse{}
		if err := postJSON(*serverURL+"/api/v1/search", query, http.StatusOK, response); err != nil {
			return err
		}
	} else {
		cfg, logger, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		ctx := context.Background()
		if _, err := components.Engine.Rebuild(ctx); err != nil {
			return err
		}
		if err := search.ProcessQuery(query, cfg.Search); err != nil {
			return err
		}
		response, err = components.Engine.FindSimilar(ctx, query)
		if err != nil {
			return err
		}
	}
	return cli.WriteSearchResults(os.Stdout, response, format)
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL to ask for a rebuild after importing (empty = no rebuild)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: dermamatch import [flags] <file.xlsx|file.yaml|file.json>...\n")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	cfg, logger, err := setup(*configPath, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx := context.Background()
	failed := 0
	for _, path := range fs.Args() {
		report, err := components.Importer.ImportFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		if format == cli.OutputText {
			fmt.Printf("%s: ", path)
		}
		if err := cli.WriteImportReport(os.Stdout, report, format); err != nil {
			return err
		}
	}
	if *serverURL != "" && failed < fs.NArg() {
		var report models.RebuildReport
		if err := postJSON(*serverURL+"/api/v1/admin/rebuild", nil, http.StatusOK, &report); err != nil {
			return fmt.Errorf("rebuild request failed: %w", err)
		}
		if err := cli.WriteRebuildReport(os.Stdout, &report, format); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, fs.NArg())
	}
	return nil
}

func runRebuild(args []string) error {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = build in-process and report without serving)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	var report *models.RebuildReport
	if *serverURL != "" {
		report = &models.RebuildReport{}
		if err := postJSON(*serverURL+"/api/v1/admin/rebuild", nil, http.StatusOK, report); err != nil {
			return err
		}
	} else {
		cfg, logger, err := setup(*configPath, false)
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		report, err = components.Engine.Rebuild(context.Background())
		if err != nil {
			return err
		}
	}
	return cli.WriteRebuildReport(os.Stdout, report, format)
}

// serverStatus is the shape of GET /api/v1/status.
type serverStatus struct {
	Engine      search.Status      `json:"engine"`
	StoredCases *int64             `json:"stored_cases,omitempty"`
	DiskUsage   *storage.Footprint `json:"disk_usage,omitempty"`
}

// offlineStatus describes the persisted state when no server is running.
func offlineStatus(ctx context.Context, cfg *config.Config) (*serverStatus, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	n, err := store.CountCases(ctx)
	if err != nil {
		return nil, err
	}
	initial, err := cfg.Weights.WeightConfig()
	if err != nil {
		return nil, err
	}
	st := &serverStatus{
		Engine: search.Status{
			CorpusSource: cfg.Corpus.Source,
			IndexType:    cfg.Vector.IndexType,
			Dimensions:   cfg.Embedding.Dimensions,
			Weights:      initial,
		},
		StoredCases: &n,
	}
	if layout, err := cfg.Embedding.Layout(); err == nil {
		st.Engine.FeatureGroups = search.FeatureGroups(layout)
	}
	if cfg.Storage.IndexPath != "" {
		idx, err := vector.NewVectorIndex(cfg.Vector.IndexType, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(cfg.Storage.IndexPath); err == nil {
			st.Engine.IndexSize = idx.Size()
		}
		_ = idx.Close()
	}
	if fp, err := storage.MeasureFootprint(cfg.Storage.DatabasePath, cfg.Storage.IndexPath); err == nil {
		st.DiskUsage = &fp
	}
	return st, nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (offline mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the database and persisted index)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	var st *serverStatus
	if *serverURL != "" {
		st = &serverStatus{}
		if err := getJSON(*serverURL+"/api/v1/status", st); err != nil {
			return err
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		st, err = offlineStatus(context.Background(), cfg)
		if err != nil {
			return err
		}
	}
	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	if err := cli.WriteStatus(os.Stdout, st.Engine, format); err != nil {
		return err
	}
	if st.StoredCases != nil {
		fmt.Printf("Stored:      %d cases\n", *st.StoredCases)
	}
	if st.DiskUsage != nil {
		fmt.Printf("Disk usage:  %s (database %s, index %s)\n",
			formatBytes(st.DiskUsage.Total()), formatBytes(st.DiskUsage.DatabaseBytes), formatBytes(st.DiskUsage.IndexBytes))
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func postJSON(url string, body interface{}, want int, out interface{}) error {
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	resp, err := httpClient.Post(url, "application/json", r)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, want, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return decodeResponse(resp, http.StatusOK, out)
}

func decodeResponse(resp *http.Response, want int, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Println(`dermamatch - demographic-aware visual similarity search over reference cases

Usage:
  dermamatch server [flags]                Start the HTTP server
  dermamatch search [flags] <query.json>   Find similar reference cases
  dermamatch import [flags] <file>...      Import reference cases into the database
  dermamatch rebuild [flags]               Rebuild the index and report what was indexed
  dermamatch status [flags]                Show engine, index and storage status
  dermamatch version                       Show version
  dermamatch help                          Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/dermamatch/config.yaml,
                     or ./config.yaml when present)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to
                     build the index in-process instead.
  --k int            Number of results
  --condition string Only return cases with this condition label
  --explain          Include the per-field score breakdown

Import Flags:
  --server string    Ask this server to rebuild after importing

Rebuild / Status Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to
                     work on the local database without a server.

Environment:
  A .env file in the working directory is loaded before the config, so config values
  may reference ${VAR} or ${VAR:-default}.

Examples:
  dermamatch server
  dermamatch import cases.xlsx
  dermamatch rebuild --server ""
  dermamatch search --k 5 --explain query.json
  dermamatch status --output json`)
}
