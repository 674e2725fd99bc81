// Command polyglot joins a multilingual voice room from the terminal:
// microphone audio is captured, chunked, and streamed to the backend, and
// incoming translations are printed as a live transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/polyglot-labs/polyglot/internal/config"
	"github.com/polyglot-labs/polyglot/internal/observe"
	"github.com/polyglot-labs/polyglot/internal/room"
	"github.com/polyglot-labs/polyglot/internal/store"
	"github.com/polyglot-labs/polyglot/internal/translate"
	"github.com/polyglot-labs/polyglot/pkg/audio/capture"
	"github.com/polyglot-labs/polyglot/pkg/audio/chunker"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "polyglot.yaml", "path to the YAML configuration file")
		roomID      = flag.String("room", "", "room to join (overrides room.id)")
		userName    = flag.String("user", "", "display name (overrides room.user_name)")
		speak       = flag.String("speak", "", "spoken language code (overrides room.speak_language)")
		hear        = flag.String("hear", "", "hear language code (overrides room.hear_language)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("polyglot", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *roomID != "" {
		cfg.Room.ID = *roomID
	}
	if *userName != "" {
		cfg.Room.UserName = *userName
	}
	if *speak != "" {
		cfg.Room.SpeakLanguage = *speak
	}
	if *hear != "" {
		cfg.Room.HearLanguage = *hear
	}
	if cfg.Room.ID == "" || cfg.Room.UserName == "" {
		return errors.New("a room and user name are required (flags -room/-user or config room.id/room.user_name)")
	}

	setupLogger(cfg.LogLevel)
	slog.Info("starting polyglot", "version", version, "room", cfg.Room.ID, "user", cfg.Room.UserName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "polyglot",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	ctrl := room.NewController(room.Options{
		RoomID:            cfg.Room.ID,
		UserName:          cfg.Room.UserName,
		SpeakLanguage:     cfg.Room.SpeakLanguage,
		HearLanguage:      cfg.Room.HearLanguage,
		StreamURL:         cfg.Stream.URL,
		HeartbeatPeriod:   cfg.Stream.HeartbeatPeriod.Std(),
		ReconnectDelay:    cfg.Stream.ReconnectDelay.Std(),
		PollInterval:      cfg.Stream.PollInterval.Std(),
		BlockSamples:      cfg.Capture.BlockSamples,
		ContainerInterval: cfg.Capture.ContainerInterval.Std(),
		ContainerEncoding: chunker.Encoding(cfg.Capture.ContainerEncoding),
		Player:            transcriptPlayer{},
		Capture:           capture.NewManager(capture.NewMicSource()),
		Rooms:             store.NewRoomClient(cfg.Control.BaseURL+"/rooms", cfg.Control.APIKey),
		Blobs:             store.NewBlobClient(cfg.Control.BaseURL+"/upload-url", cfg.Control.APIKey, cfg.Control.Bucket),
		Translator:        translate.NewClient(cfg.Control.BaseURL+"/translate", cfg.Control.APIKey),
	})

	if err := ctrl.Join(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", cfg.Room.ID, err)
	}
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ctrl.Leave(leaveCtx); err != nil {
			slog.Warn("leave failed", "err", err)
		}
	}()

	if err := ctrl.StartCapture(ctx, capture.Microphone); err != nil {
		slog.Warn("microphone capture unavailable, joining listen-only", "err", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			slog.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		printTranscript(gctx, ctrl)
		return nil
	})

	<-gctx.Done()
	slog.Info("shutting down")
	return g.Wait()
}

func setupLogger(level config.LogLevel) {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// printTranscript tails the room log to stdout: the newest message is
// printed once, when it first appears.
func printTranscript(ctx context.Context, ctrl *room.Controller) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastPrinted int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs := ctrl.Messages()
			for i := len(msgs) - lastPrinted - 1; i >= 0; i-- {
				m := msgs[i]
				fmt.Printf("[%s] %s: %s\n",
					time.UnixMilli(m.Timestamp).Format("15:04:05"), m.Speaker, m.Original)
				for lang, text := range m.Translations {
					if lang != m.SpeakerLanguage {
						fmt.Printf("        %s: %s\n", lang, text)
					}
				}
			}
			lastPrinted = len(msgs)
		}
	}
}

// transcriptPlayer is the headless playback sink: incoming voices are
// surfaced as log lines instead of speaker output.
type transcriptPlayer struct{}

func (transcriptPlayer) Play(audioRef string) error {
	slog.Info("translation audio ready", "audio_ref", audioRef)
	return nil
}

func (transcriptPlayer) Stop() {}
