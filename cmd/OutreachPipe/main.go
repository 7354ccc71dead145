package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/api"
	"github.com/BTreeMap/OutreachPipe/internal/composer"
	"github.com/BTreeMap/OutreachPipe/internal/config"
	"github.com/BTreeMap/OutreachPipe/internal/conversation"
	"github.com/BTreeMap/OutreachPipe/internal/genai"
	"github.com/BTreeMap/OutreachPipe/internal/lockfile"
	"github.com/BTreeMap/OutreachPipe/internal/messaging"
	"github.com/BTreeMap/OutreachPipe/internal/outreach"
	"github.com/BTreeMap/OutreachPipe/internal/persistence"
	"github.com/BTreeMap/OutreachPipe/internal/store"
	"github.com/BTreeMap/OutreachPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/OutreachPipe/internal/whatsapp"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default configuration constants
const (
	// DefaultWhatsAppDBFileName is the whatsmeow device database in the state directory
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// shutdownTimeout bounds the graceful shutdown sequence
	shutdownTimeout = 30 * time.Second
)

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	waDSN        *string
	campaignFile *string
	transport    *string
	openaiKey    *string
	apiAddr      *string
	logLevel     *string
	logFile      *string
}

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flags := parseCommandLineFlags(flag.CommandLine, env, os.Args[1:])
	initializeLogger(*flags.logLevel, *flags.logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, applyFlags(env, flags), flags); err != nil {
		slog.Error("OutreachPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("OutreachPipe exited successfully")
}

// initializeLogger sets up structured logging on stdout, and also on a rotating
// file when logFile is set.
func initializeLogger(level, logFile string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	var w io.Writer = os.Stdout
	if logFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

// parseCommandLineFlags parses args with environment values as defaults.
func parseCommandLineFlags(fs *flag.FlagSet, env config.Env, args []string) Flags {
	flags := Flags{
		qrOutput:     fs.String("qr-output", "", "path to write login QR code"),
		numeric:      fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     fs.String("state-dir", env.StateDir, "state directory for OutreachPipe data (overrides $OUTREACHPIPE_STATE_DIR)"),
		dbDSN:        fs.String("db-dsn", env.DatabaseURL, "snapshot database DSN (overrides $DATABASE_URL; default SQLite in the state directory)"),
		waDSN:        fs.String("whatsapp-dsn", env.WhatsAppDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)"),
		campaignFile: fs.String("campaigns", env.CampaignFile, "campaign YAML file (overrides $OUTREACHPIPE_CAMPAIGNS)"),
		transport:    fs.String("transport", env.Transport, "message transport: whatsapp or twilio (overrides $OUTREACHPIPE_TRANSPORT)"),
		openaiKey:    fs.String("openai-api-key", env.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      fs.String("api-addr", env.WebhookAddr, "HTTP API and webhook address (overrides $WEBHOOK_ADDR)"),
		logLevel:     fs.String("log-level", env.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
		logFile:      fs.String("log-file", env.LogFile, "also write logs to this rotating file (overrides $LOG_FILE)"),
	}
	// ExitOnError flag sets never return an error here.
	_ = fs.Parse(args)
	return flags
}

// applyFlags folds flag values back into the environment configuration.
func applyFlags(env config.Env, flags Flags) config.Env {
	env.StateDir = *flags.stateDir
	env.DatabaseURL = *flags.dbDSN
	env.WhatsAppDSN = *flags.waDSN
	env.CampaignFile = *flags.campaignFile
	env.Transport = *flags.transport
	env.OpenAIKey = *flags.openaiKey
	env.WebhookAddr = *flags.apiAddr
	if env.WhatsAppDSN == "" {
		env.WhatsAppDSN = filepath.Join(env.StateDir, DefaultWhatsAppDBFileName)
	}
	return env
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(env config.Env, flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(env.WhatsAppDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(env config.Env) []genai.Option {
	var genaiOpts []genai.Option
	if env.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(env.OpenAIKey))
	}
	if env.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(env.OpenAIModel))
	}
	if env.GenAIRateLimit > 0 {
		genaiOpts = append(genaiOpts, genai.WithRateLimit(rate.Limit(env.GenAIRateLimit), 1))
	}
	if env.GenAIDebug {
		genaiOpts = append(genaiOpts, genai.WithDebug(env.StateDir))
	}
	return genaiOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(env config.Env) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(env.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(env.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(env.TwilioFrom),
	}
}

// transport bundles the messaging service with its teardown and optional webhook.
type transport struct {
	svc     messaging.Service
	webhook http.Handler
	close   func()
}

func openTransport(ctx context.Context, env config.Env, flags Flags) (*transport, error) {
	switch env.Transport {
	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(env)...)
		if err != nil {
			return nil, err
		}
		var opts []messaging.TwilioOption
		if env.WebhookPublicURL != "" {
			opts = append(opts, messaging.WithWebhookValidation(env.TwilioAuthToken, env.WebhookPublicURL))
		} else {
			slog.Warn("WEBHOOK_PUBLIC_URL not set; Twilio webhook signatures will not be validated")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return &transport{svc: svc, webhook: http.HandlerFunc(svc.TwilioWebhookHandler), close: func() {}}, nil
	default:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(env, flags)...)
		if err != nil {
			return nil, err
		}
		return &transport{svc: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
	}
}

// run wires every component, serves until ctx is cancelled, then shuts down
// in reverse dependency order.
func run(ctx context.Context, env config.Env, flags Flags) error {
	if err := env.Validate(); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(env.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	campaigns, err := config.LoadCampaigns(env.CampaignPath())
	if err != nil {
		return err
	}
	settings, err := campaigns.Settings()
	if err != nil {
		return err
	}
	festivals := composer.FestivalCalendar(campaigns.Festivals)
	if err := festivals.Validate(); err != nil {
		return err
	}

	st, err := store.Open(env.SnapshotDSN())
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer st.Close()

	gen, err := genai.NewClient(buildGenAIOptions(env)...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	tr, err := openTransport(ctx, env, flags)
	if err != nil {
		return fmt.Errorf("failed to open %s transport: %w", env.Transport, err)
	}
	defer tr.close()

	history := conversation.NewMemoryStore(conversation.DefaultHistoryLimit)
	comp := composer.New(composer.NewCatalog(campaigns.Prompts), gen, tr.svc, history, composer.WithPersona(campaigns.Persona))
	engine, err := outreach.New(settings, comp, outreach.WithCatalog(comp), outreach.WithFestivals(festivals))
	if err != nil {
		return err
	}

	saver := persistence.NewSaver(engine, st, campaigns.SaveSchedule)
	if err := saver.Restore(ctx); err != nil {
		return err
	}

	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		relayInbound(ctx, tr.svc.Responses(), engine, history)
	}()

	apiOpts := []api.Option{api.WithAddr(env.WebhookAddr), api.WithSaver(saver)}
	if tr.webhook != nil {
		apiOpts = append(apiOpts, api.WithWebhook(api.DefaultWebhookPath, tr.webhook))
	}
	server := api.NewServer(engine, apiOpts...)

	var runErr error
	serveErrs, err := server.Start()
	if err == nil {
		err = engine.Start(ctx)
	}
	if err == nil {
		err = saver.Start(ctx)
	}
	if err != nil {
		runErr = err
	} else {
		slog.Info("OutreachPipe running", "transport", env.Transport, "campaigns", len(settings.Campaigns), "api_addr", env.WebhookAddr)
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
		case err := <-serveErrs:
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown failed", "error", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		slog.Warn("Engine stop failed", "error", err)
	}
	if err := saver.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if err := tr.svc.Stop(); err != nil {
		slog.Warn("Messaging service stop failed", "error", err)
	}
	<-relayDone
	return runErr
}
