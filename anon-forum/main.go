package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/sdk"

	"github.com/gosuda/anon-forum/internal/bulk"
	"github.com/gosuda/anon-forum/internal/commentsync"
	"github.com/gosuda/anon-forum/internal/forum"
	"github.com/gosuda/anon-forum/internal/nickname"
	"github.com/gosuda/anon-forum/internal/session"
)

var rootCmd = &cobra.Command{
	Use:               "anon-forum",
	Short:             "Anonymous forum client: live comment view, posting and bulk send",
	PersistentPreRunE: setupLogging,
	RunE:              runWatch,
	SilenceUsage:      true,
}

var postCmd = &cobra.Command{
	Use:   "post TEXT...",
	Short: "Post one comment under the saved display name",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPost,
}

var bulkCmd = &cobra.Command{
	Use:   "bulk TEXT...",
	Short: "Post the same comment repeatedly at a fixed interval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBulk,
}

var nameCmd = &cobra.Command{
	Use:   "name [NEW]",
	Short: "Show or change the saved display name",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runName,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the forum health endpoint",
	RunE:  runHealth,
}

var (
	flagForumURL string
	flagDataPath string
	flagLogLevel string
	flagTimeout  time.Duration

	flagServerURLs   []string
	flagPort         int
	flagName         string
	flagHide         bool
	flagDescription  string
	flagTags         string
	flagOwner        string
	flagQuiet        bool
	flagPollInterval time.Duration
	flagInitialDelay time.Duration

	flagBulkCount    int
	flagBulkInterval int
)

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagForumURL, "forum-url", envOr("FORUM_URL", "http://localhost:5000"), "forum base URL (from env FORUM_URL if set)")
	flags.StringVar(&flagDataPath, "data-path", "anon-forum/data", "directory for the Pebble db holding the display name (empty keeps it in memory)")
	flags.StringVar(&flagLogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (from env LOG_LEVEL if set)")
	flags.DurationVar(&flagTimeout, "timeout", 10*time.Second, "per-request HTTP timeout")

	wf := rootCmd.Flags()
	wf.StringSliceVar(&flagServerURLs, "server-url", strings.Split(os.Getenv("RELAY"), ","), "relay websocket URL(s) to publish the viewer on; repeat or comma-separated (from env RELAY if set)")
	wf.IntVar(&flagPort, "port", 8092, "local viewer HTTP port (negative to disable)")
	wf.StringVar(&flagName, "name", "anon-forum", "viewer display name on the relay")
	wf.BoolVar(&flagHide, "hide", false, "hide this lease from portal listings")
	wf.StringVar(&flagDescription, "description", "Anonymous forum live view", "lease description")
	wf.StringVar(&flagOwner, "owner", "Forum", "lease owner")
	wf.StringVar(&flagTags, "tags", "forum,community", "comma-separated lease tags")
	wf.BoolVar(&flagQuiet, "quiet", false, "do not print the comment list to stdout")
	wf.DurationVar(&flagPollInterval, "poll-interval", commentsync.DefaultInterval, "comment polling interval")
	wf.DurationVar(&flagInitialDelay, "initial-delay", commentsync.DefaultInitialDelay, "delay before the first poll")

	bulkCmd.Flags().IntVar(&flagBulkCount, "count", bulk.DefaultCount, "number of posts (1-500)")
	bulkCmd.Flags().IntVar(&flagBulkInterval, "interval", int(bulk.DefaultInterval/time.Millisecond), "delay between posts in milliseconds (min 100)")

	rootCmd.AddCommand(postCmd, bulkCmd, nameCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute anon-forum command")
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(flagLogLevel))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// newController opens the name store and forum client shared by all commands.
func newController(display commentsync.Display, opts commentsync.Options) (*session.Controller, *forum.Client, *nickname.Store, error) {
	client, err := forum.NewClient(flagForumURL, flagTimeout)
	if err != nil {
		return nil, nil, nil, err
	}
	names := nickname.Open(flagDataPath)
	ctrl := session.New(client, names, display, session.Config{Sync: opts})
	return ctrl, client, names, nil
}

// refreshCSRF reads the anti-forgery token if the forum page exposes one.
func refreshCSRF(ctx context.Context, client *forum.Client) {
	tok, err := client.RefreshCSRF(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("[forum] csrf token unavailable")
		return
	}
	if tok != "" {
		log.Debug().Msg("[forum] csrf token loaded")
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := newViewer()
	var display commentsync.Display = view
	if !flagQuiet {
		display = multiDisplay{view, newTextDisplay(os.Stdout)}
	}
	ctrl, client, names, err := newController(display, commentsync.Options{
		InitialDelay: flagInitialDelay,
		Interval:     flagPollInterval,
	})
	if err != nil {
		return err
	}
	defer names.Close()
	view.attach(ctx, ctrl)
	refreshCSRF(ctx, client)

	router := NewHandler(flagName, client.BaseURL(), view)

	// Relay listener
	var closers []func() error
	if servers := nonEmpty(flagServerURLs); len(servers) > 0 {
		cred := sdk.NewCredential()
		relay, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = servers })
		if err != nil {
			return fmt.Errorf("new client: %w", err)
		}
		ln, err := relay.Listen(cred, flagName, []string{"http/1.1"},
			sdk.WithDescription(flagDescription),
			sdk.WithHide(flagHide),
			sdk.WithOwner(flagOwner),
			sdk.WithTags(strings.Split(flagTags, ",")),
		)
		if err != nil {
			_ = relay.Close()
			return fmt.Errorf("listen: %w", err)
		}
		closers = append(closers, ln.Close, relay.Close)
		go func() {
			if err := http.Serve(ln, router); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Msg("[forum] relay http error")
			}
		}()
	}

	// Optional local HTTP on --port
	var httpSrv *http.Server
	if flagPort >= 0 {
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", flagPort),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		log.Info().Msgf("[forum] viewer at http://127.0.0.1:%d", flagPort)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[forum] local http stopped")
			}
		}()
	}

	// Shutdown watcher
	go func() {
		<-ctx.Done()
		ctrl.StopBulk()
		for _, c := range closers {
			_ = c()
		}
		if httpSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("[forum] http server shutdown error")
			}
		}
	}()

	log.Info().Str("forum", client.BaseURL()).Msg("[forum] polling comments")
	ctrl.Run(ctx)

	view.closeAll()
	view.wait()
	log.Info().Msg("[forum] shutdown complete")
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, client, names, err := newController(commentsync.DisplayFunc(nil), commentsync.Options{})
	if err != nil {
		return err
	}
	defer names.Close()
	refreshCSRF(ctx, client)

	if err := ctrl.Submit(ctx, strings.Join(args, " ")); err != nil {
		if errors.Is(err, session.ErrEmptyComment) {
			return errors.New(session.EmptyCommentNotice)
		}
		return err
	}
	log.Info().Str("as", ctrl.DisplayName()).Msg("[forum] comment posted")
	return nil
}

func runBulk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, client, names, err := newController(commentsync.DisplayFunc(nil), commentsync.Options{})
	if err != nil {
		return err
	}
	defer names.Close()
	refreshCSRF(ctx, client)

	p := bulk.NewParams(strings.Join(args, " "), flagBulkCount, flagBulkInterval)
	if err := ctrl.StartBulk(ctx, p); err != nil {
		return err
	}
	if err := ctrl.WaitBulk(ctx); err != nil {
		ctrl.StopBulk()
		log.Info().Msg("[bulk] interrupted")
	}
	st := ctrl.BulkStatus()
	log.Info().Int64("sent", st.Sent).Str("as", ctrl.DisplayName()).Msg("[bulk] done")
	return nil
}

func runName(cmd *cobra.Command, args []string) error {
	names := nickname.Open(flagDataPath)
	defer names.Close()
	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), names.Resolve())
		return nil
	}
	saved, err := names.Save(args[0])
	if err != nil {
		log.Warn().Err(err).Msg("[name] save failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), saved)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	client, err := forum.NewClient(flagForumURL, flagTimeout)
	if err != nil {
		return err
	}
	if err := client.Health(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "healthy")
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
