package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/control"
	"chatrelay/internal/events"
	"chatrelay/internal/gate"
	"chatrelay/internal/history"
	"chatrelay/internal/ipc"
	"chatrelay/internal/messenger"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/proxy"
	"chatrelay/internal/settings"
	"chatrelay/pkg/stt"
	"chatrelay/pkg/stt/whisper"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	flags := config.RegisterFlags(cli.CommandLine)
	cli.Parse()

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load(*flags.Env)

	cfg, err := config.Load(*flags.Config)
	if err != nil {
		setupLogging("info")
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	flags.Apply(cli.CommandLine, cfg)
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid config", "err", err)
		os.Exit(1)
	}

	log.Info("Booting up")

	if err := run(cfg); err != nil {
		log.Error("Stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func setupLogging(level string) {
	lvl, ok := logLevelMap[level]
	if !ok {
		lvl = log.LevelInfo
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: lvl,
	})))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient, err := proxy.NewClient(cfg.Proxy, cfg.CollaboratorTimeout)
	if err != nil {
		return err
	}
	log.Debug("Loaded http client", "proxy", cfg.Proxy, "timeout", cfg.CollaboratorTimeout)

	transcriber, closeSTT, err := newTranscriber(cfg, httpClient)
	if err != nil {
		return err
	}
	defer closeSTT()

	backend, err := newChatBackend(cfg, httpClient)
	if err != nil {
		return err
	}

	store := settings.NewStore(cfg.SettingsPath)
	initial, _ := store.Load()
	current := settings.NewHolder(initial)

	hub := events.NewHub(events.DefaultBacklog)
	hist := history.NewStore()
	g := gate.New(backend)

	wa, err := messenger.Open(ctx, messenger.Options{
		SessionDB: cfg.SessionDB,
		QR:        os.Stdout,
		Events:    hub,
	})
	if err != nil {
		return err
	}
	defer wa.Close()

	p := pipeline.New(pipeline.Config{
		MaxExchanges:        cfg.History.MaxExchanges,
		GroupPattern:        cfg.GroupRegexp(),
		TranscriptionNotice: cfg.Notices.Transcription,
		FailureNotice:       cfg.Notices.Failure,
	}, pipeline.Deps{
		Settings:    current,
		History:     hist,
		Gate:        g,
		Transcriber: transcriber,
		Chat:        backend,
		Sender:      wa,
		Events:      hub,
	})
	dispatch := pipeline.NewDispatcher(ctx, p)
	wa.OnMessage(dispatch.Submit)

	if cfg.History.IdleTTL > 0 {
		janitor, err := history.NewJanitor(hist, cfg.History.IdleTTL, cfg.History.Schedule)
		if err != nil {
			return err
		}
		janitor.Start()
		defer janitor.Stop()
	}

	sock, err := ipc.Listen(cfg.Socket, ipc.NewHandler(g, wa.Ready, hub))
	if err != nil {
		log.Warn("Control socket unavailable", "path", cfg.Socket, "err", err)
	} else {
		defer sock.Close()
	}

	srv := control.NewServer(control.Deps{
		Settings:  current,
		Store:     store,
		Gate:      g,
		History:   hist,
		Messenger: wa,
		Events:    hub,
	}, cfg.StaticDir)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, cfg.Listen) }()

	if err := wa.Connect(ctx); err != nil {
		stop()
		<-errCh
		return err
	}

	log.Info("Boot up - successful", "listen", cfg.Listen, "stt", cfg.Transcriber.Backend, "chat", cfg.Chat.Backend)

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("Shutting down")
		err = <-errCh
	}

	// Stop inbound traffic before draining; the deferred Close disconnects.
	wa.OnMessage(nil)
	dispatch.Close()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func newTranscriber(cfg *config.Config, httpClient *http.Client) (stt.Transcriber, func(), error) {
	switch cfg.Transcriber.Backend {
	case config.BackendWhisper:
		w, err := whisper.New(cfg.Transcriber.Model, whisper.Options{
			Language: cfg.Transcriber.Language,
			Threads:  cfg.Transcriber.Threads,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Debug("Loaded whisper", "model", cfg.Transcriber.Model)
		return w, func() { w.Close() }, nil
	default:
		return stt.NewService(cfg.Transcriber.URL, httpClient), func() {}, nil
	}
}

func newChatBackend(cfg *config.Config, httpClient *http.Client) (chat.Backend, error) {
	switch cfg.Chat.Backend {
	case config.BackendOpenAI:
		client := openai.NewClient(
			option.WithAPIKey(cfg.Chat.APIKey),
			option.WithHTTPClient(httpClient),
		)
		log.Debug("Loaded OpenAI backend", "model", cfg.Chat.Model)
		return chat.NewOpenAI(client, cfg.Chat.Model), nil
	default:
		return chat.NewService(cfg.Chat.URL, httpClient), nil
	}
}
