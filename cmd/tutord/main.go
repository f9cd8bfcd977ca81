package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thakursameershetty/music-tutor-app/internal/audio"
	"github.com/thakursameershetty/music-tutor-app/internal/capture"
	"github.com/thakursameershetty/music-tutor-app/internal/config"
	"github.com/thakursameershetty/music-tutor-app/internal/device"
	"github.com/thakursameershetty/music-tutor-app/internal/logging"
	"github.com/thakursameershetty/music-tutor-app/internal/loop"
	"github.com/thakursameershetty/music-tutor-app/internal/orb"
	"github.com/thakursameershetty/music-tutor-app/internal/spectrum"
	"github.com/thakursameershetty/music-tutor-app/internal/store"
	"github.com/thakursameershetty/music-tutor-app/internal/stream"
	"github.com/thakursameershetty/music-tutor-app/internal/studio"
	"github.com/thakursameershetty/music-tutor-app/internal/tutor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tutord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	lg, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, DevMode: cfg.DevMode})
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(filepath.Join(cfg.DataDir, "db"), lg.Named("store"))
	if err != nil {
		return err
	}
	defer db.Close()

	client := tutor.NewClient(cfg.APIURL, cfg.HTTPTimeout, db, lg.Named("tutor"))

	encoder := capture.NewWAVEncoder
	if cfg.Encoder == "opus" {
		encoder = capture.NewOpusEncoder
	}

	evloop := loop.New(cfg.FrameRate, lg.Named("loop"))
	mixer := audio.NewMixer()
	broadcaster := stream.NewBroadcaster()
	orbHandler := stream.NewOrbHandler(lg.Named("orb"))
	webrtcHandler := stream.NewWebRTCHandler(broadcaster, 0, lg.Named("webrtc"))
	defer webrtcHandler.Close()

	st, err := studio.New(ctx, studio.Config{
		SpoolDir: filepath.Join(cfg.DataDir, "takes"),
		Deadband: cfg.SeekDeadband,
		Format:   capture.Format{SampleRate: cfg.SampleRate, Channels: 1},
	}, studio.Deps{
		Loop:     evloop,
		Mic:      device.NewMicrophone(cfg.MicDevice, lg.Named("mic")),
		Encoder:  encoder,
		Feed:     spectrum.NewFeed(cfg.FFTSize),
		Renderer: orb.NewRenderer(cfg.ParticleCount),
		Frames:   orbHandler,
		Mixer:    mixer,
		Analyzer: client,
		Pending:  db,
	}, lg.Named("studio"))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, 0, lg.Named("mp3")))
	mux.Handle("/offer", webrtcHandler)
	mux.Handle("/ws/orb", orbHandler)
	listeners := func() map[string]int {
		return map[string]int{
			"http":   broadcaster.ListenerCount(),
			"webrtc": webrtcHandler.PeerCount(),
			"orb":    orbHandler.ClientCount(),
		}
	}
	newAPI(st, client, db, listeners, lg.Named("api")).routes(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// the loop outlives the other goroutines so the studio can stop a live
	// capture on it during shutdown
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := evloop.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		mixer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		broadcaster.Run(gctx, mixer.Frames())
		return nil
	})
	g.Go(func() error {
		lg.Infow("music tutor live", "addr", server.Addr, "api", cfg.APIURL, "encoder", cfg.Encoder)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Infow("shutting down")

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		st.Close(closeCtx)
		stopLoop()
		return server.Shutdown(closeCtx)
	})

	return g.Wait()
}
