// Package main is the mail insights CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/cli"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/server"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/watcher"
	"github.com/jmsrpp/btp-cap-genai-rag/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/mailinsights/config.yaml"
	defaultServerURL  = "http://localhost:4004"
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists. Returns the config and the path
// actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
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
	case "mails":
		runMails()
	case "show":
		runShow()
	case "similar":
		runSimilar()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("mailinsights version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds the logger and components for direct access.
func setup(configPath string, debug bool) (*Components, *zap.Logger, string) {
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
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return components, logger, resolved
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	components, logger, resolved := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	cfg := components.Config
	logger.Info("config loaded", zap.String("config_path", resolved))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inbox server.Inbox
	if len(cfg.Inbox.Directories) > 0 {
		spool := watcher.New(
			cfg.Inbox.Directories,
			cfg.Inbox.Extensions,
			cfg.Inbox.RecursiveOrDefault(),
			components.Indexer.Handle,
			watcher.WithLogger(logger),
		)
		if err := spool.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox spool", zap.Error(err))
		}
		defer spool.Stop()
		spool.ScanExisting()
		inbox = spool
	}

	srv := server.NewServer(components.Service, inbox, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// argsReorder moves flags that follow positional arguments to the front so
// that flag.Parse sees them: "mails show m1 -output json".
func argsReorder(args []string) []string {
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

// clientFlags are shared by commands that talk to a running server.
type clientFlags struct {
	server *string
	tenant *string
	header *string
	output *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		server: fs.String("server", defaultServerURL, "server URL"),
		tenant: fs.String("tenant", "", "tenant key (empty = default tenant)"),
		header: fs.String("tenant-header", "X-Tenant-ID", "header carrying the tenant key"),
		output: fs.String("output", "text", "output format: text or json"),
	}
}

func (f clientFlags) client() *apiClient {
	return newAPIClient(*f.server, *f.tenant, *f.header)
}

func (f clientFlags) format() cli.OutputFormat {
	format, err := cli.ParseFormat(*f.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runMails() {
	fs := flag.NewFlagSet("mails", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := cf.format()

	var mails []models.MailSummary
	if err := cf.client().get("/api/v1/mails", &mails); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteMails(os.Stdout, mails, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runShow() {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: mailinsights show [flags] <mail-id>")
		os.Exit(1)
	}
	format := cf.format()

	var detail models.MailDetail
	if err := cf.client().get("/api/v1/mails/"+url.PathEscape(fs.Arg(0)), &detail); err != nil {
		fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteMail(os.Stdout, &detail, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSimilar() {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	cf := addClientFlags(fs)
	keyword := fs.String("keyword", "", "keep only neighbours matching this keyword")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: mailinsights similar [flags] <mail-id>")
		os.Exit(1)
	}
	format := cf.format()

	var results []models.SimilarityResult
	req := models.FindMailsRequest{SearchKeywordSimilarMails: *keyword}
	if err := cf.client().post("/api/v1/mails/"+url.PathEscape(fs.Arg(0))+"/similar", req, &results); err != nil {
		fmt.Fprintf(os.Stderr, "Find failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSimilar(os.Stdout, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	_ = fs.Parse(os.Args[2:])
	format := cf.format()

	var st *service.Status
	if *cf.server != "" {
		st = &service.Status{}
		if err := cf.client().get("/api/v1/status", st); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		if st, err = components.Service.Status(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		cfg := components.Config
		if fp, err := storage.MeasureFootprint(cfg.Storage.DatabasePath, cfg.Vector.SnapshotPath, cfg.Keyword.IndexPath); err == nil {
			st.Disk = &fp
		}
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// runIngest processes mail files directly, without a running server.
func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "", "tenant key (empty = derive from the inbox layout)")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: mailinsights ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}

	components, logger, _ := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	files, err := collectFiles(fs.Args(), components.Config.Inbox.Extensions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	groups := make(map[string][]string)
	for _, f := range files {
		t := *tenant
		if t == "" {
			t = components.Indexer.TenantFor(f)
		}
		groups[t] = append(groups[t], f)
	}
	tenants := make([]string, 0, len(groups))
	for t := range groups {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	ctx := context.Background()
	total := 0
	for _, t := range tenants {
		added, err := components.Indexer.IngestFiles(ctx, t, groups[t])
		total += len(added)
		var partial *service.PartialError
		switch {
		case errors.As(err, &partial):
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		case err != nil:
			fmt.Fprintf(os.Stderr, "Ingest failed for tenant %q: %v\n", t, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Ingested %d new mail(s) from %d file(s)\n", total, len(files))
}

// collectFiles expands directories into the files below them whose extension
// is allowed. Explicit file arguments are kept as given.
func collectFiles(args, extensions []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != arg {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !hasExtension(path, extensions) {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func hasExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: mailinsights delete [flags] <mail-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	var out map[string]bool
	err := cf.client().delete("/api/v1/mails/"+url.PathEscape(id), &out)
	var partial *partialError
	switch {
	case errors.As(err, &partial):
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Mail deleted: %s\n", id)
}

func printUsage() {
	fmt.Println(`mailinsights - Customer mail insights with retrieval-augmented responses

Usage:
  mailinsights server [flags]             Start the HTTP server and the inbox spool
  mailinsights ingest [flags] <path>...   Process mail files (.eml, .txt, .html, .pdf)
  mailinsights mails [flags]              List mails of a tenant
  mailinsights show [flags] <id>          Show a mail with insights and closest mails
  mailinsights similar [flags] <id>       Find similar mails, optionally by keyword
  mailinsights delete [flags] <id>        Delete a mail
  mailinsights status [flags]             Show mail counts per tenant
  mailinsights version                    Show version
  mailinsights help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/mailinsights/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --tenant string    Tenant key (default: derived from the inbox directory layout)

Client Flags (mails, show, similar, delete, status):
  --server string          Server URL (default: http://localhost:4004)
  --tenant string          Tenant key (default: the default tenant)
  --tenant-header string   Header carrying the tenant key (default: X-Tenant-ID)
  --output string          Output format: text or json (default: text)
  --keyword string         similar only: keep neighbours matching the keyword
  --config string          status only: config file for direct mode with --server ""

Examples:
  mailinsights server
  mailinsights ingest --tenant acme ./mails
  mailinsights mails --tenant acme
  mailinsights show --output json 1b4e28ba-2fa1-11d2-883f-0016d3cca427
  mailinsights similar --keyword invoice 1b4e28ba-2fa1-11d2-883f-0016d3cca427
  mailinsights status --server ""`)
}
