package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sjawhar/meetscribe/internal/config"
	"github.com/sjawhar/meetscribe/internal/events"
	"github.com/sjawhar/meetscribe/internal/export"
	"github.com/sjawhar/meetscribe/internal/llm"
	"github.com/sjawhar/meetscribe/internal/logging"
	"github.com/sjawhar/meetscribe/internal/media"
	"github.com/sjawhar/meetscribe/internal/metrics"
	"github.com/sjawhar/meetscribe/internal/server"
	"github.com/sjawhar/meetscribe/internal/session"
	"github.com/sjawhar/meetscribe/internal/storage"
	"github.com/sjawhar/meetscribe/internal/summary"
	"github.com/sjawhar/meetscribe/internal/transcribe"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "meetscribe",
		Short:         "Real-time meeting transcription server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "meetscribe.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newSessionsCmd(&configPath))
	return root
}

func loadConfig(path string) (config.Config, []string, error) {
	cfg, warnings, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	return cfg, warnings, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket and HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, warnings, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, warnings)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, warnings []string) error {
	log.Info().Msg("meetscribe: starting")

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	m := metrics.New(prometheus.DefaultRegisterer)

	adapter := transcribe.Open(ctx, cfg)
	if c, ok := adapter.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	summarizer := summary.New(summarizationClient(ctx, cfg), summary.Options{
		MaxInputChars:  cfg.Summarization.MaxInputChars,
		SystemPrompt:   cfg.Summarization.SystemPrompt,
		UserTemplate:   cfg.Summarization.UserTemplate,
		Timeout:        cfg.ParsedSummarizationTimeout(),
		EnhanceTimeout: cfg.ParsedEnhanceTimeout(),
	})

	publisher := events.New(cfg.Kafka, m)
	defer func() { _ = publisher.Close() }()

	hub := server.NewHub()
	deps := session.Deps{
		Store:       store,
		Transcriber: adapter,
		Summarizer:  summarizer,
		Sink:        hub,
		Publisher:   publisher,
		Extractor:   media.NewExtractor(cfg.FFmpegPath),
		Metrics:     m,
	}
	if cfg.GDrive.FolderID != "" {
		exporter, err := export.NewDriveExporter(ctx, cfg.GDrive.CredentialsFile, cfg.GDrive.FolderID)
		if err != nil {
			log.Warn().Err(err).Msg("Drive export disabled")
		} else {
			deps.Exporter = exporter
		}
	}

	manager := session.NewManager(deps, session.Options{
		ChunkInterval:  cfg.ParsedChunkInterval(),
		IdleGrace:      cfg.ParsedIdleGrace(),
		SweepInterval:  cfg.ParsedSweepInterval(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	go manager.Run(ctx)

	srv := server.New(server.Deps{
		Hub:            hub,
		Sessions:       manager,
		Store:          store,
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
		Warnings:       warnings,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	err = srv.Serve(ctx, cfg.ListenAddr)

	log.Info().Msg("meetscribe: shutting down")
	manager.Wait()
	return err
}

// summarizationClient returns a lazily resolved client over the configured
// candidates, or nil when no candidate has a key. Resolution is started in
// the background so the first session does not pay for it.
func summarizationClient(ctx context.Context, cfg config.Config) llm.Client {
	usable := false
	for _, candidate := range cfg.Summarization.Models {
		provider, _, err := llm.ParseModel(candidate)
		if err == nil && cfg.APIKey(provider) != "" {
			usable = true
			break
		}
	}
	if !usable {
		log.Info().Msg("No summarization backend configured, using deterministic fallbacks")
		return nil
	}

	sel := llm.NewSelector(cfg.Summarization.Models, cfg.APIKey, selectorOptions(cfg)...)
	go func() {
		if _, err := sel.Resolve(ctx); err != nil {
			log.Warn().Err(err).Msg("Summarization model selection failed, using deterministic fallbacks")
			return
		}
		log.Info().Str("model", sel.Model()).Msg("Summarization model selected")
	}()
	return sel
}

func selectorOptions(cfg config.Config) []llm.Option {
	var opts []llm.Option
	if cfg.Summarization.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.Summarization.MaxTokens))
	}
	return opts
}

func newSessionsCmd(configPath *string) *cobra.Command {
	sessions := &cobra.Command{Use: "sessions", Short: "Inspect stored sessions"}

	var owner string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.ListSessions(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), list)
		},
	}
	listCmd.Flags().StringVar(&owner, "owner", "", "only sessions of this owner")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of sessions")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's summary and transcript as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sess, err := store.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session %s: %w", args[0], err)
			}
			tr, err := store.GetTranscript(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("session %s has no transcript (status %s): %w", args[0], sess.Status, err)
			}

			_, err = io.WriteString(cmd.OutOrStdout(), export.RenderMarkdown(export.Document{
				SessionID:  sess.ID,
				Owner:      sess.Owner,
				Mode:       sess.Mode,
				StartedAt:  sess.StartedAt,
				Duration:   time.Duration(sess.DurationSeconds * float64(time.Second)),
				Transcript: tr.Content,
				Summary:    tr.Summary,
			}))
			return err
		},
	}

	sessions.AddCommand(listCmd, showCmd)
	return sessions
}

func openStore(configPath string) (*storage.SQLiteStore, error) {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: "error", Format: cfg.LogFormat})
	return storage.NewSQLiteStore(cfg.DBPath)
}

func printSessions(out io.Writer, list []storage.Session) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tOWNER\tMODE\tSTATUS\tSTARTED\tDURATION")
	for _, s := range list {
		duration := time.Duration(s.DurationSeconds * float64(time.Second)).Round(time.Second)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Owner, s.Mode, s.Status, s.StartedAt.Local().Format("2006-01-02 15:04"), duration)
	}
	return tw.Flush()
}
