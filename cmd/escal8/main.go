package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comigor/escal8-go/internal/agent"
	"github.com/comigor/escal8-go/internal/config"
	"github.com/comigor/escal8-go/internal/conversation"
	"github.com/comigor/escal8-go/internal/llm"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/mcpserver"
	"github.com/comigor/escal8-go/internal/media"
	"github.com/comigor/escal8-go/internal/responder"
	"github.com/comigor/escal8-go/internal/server"
	"github.com/comigor/escal8-go/internal/store"
	"github.com/comigor/escal8-go/internal/voice"
)

func main() {
	if err := run(); err != nil {
		logger.L.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store, cfg.Upstream.Timeout)
	if err != nil {
		return err
	}
	defer st.Close()

	voiceClient := voice.New(cfg.ElevenLabs.APIKey,
		voice.WithBaseURL(cfg.ElevenLabs.BaseURL),
		voice.WithTimeout(cfg.Upstream.Timeout),
		voice.WithTTSModel(cfg.ElevenLabs.TTSModel),
		voice.WithOutputFormat(cfg.ElevenLabs.OutputFormat),
	)

	provider, err := llm.New(ctx, cfg.LLM, cfg.Upstream.Timeout)
	if err != nil {
		return err
	}

	// Typed nils must not reach the interfaces below.
	var completer responder.Completer
	var transcriber media.Transcriber
	if provider != nil {
		completer, transcriber = provider, provider
		logger.L.Info("llm enabled", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	} else {
		logger.L.Warn("no llm api key configured; replies and speech-to-text are degraded")
	}

	directory := agent.NewDirectory(voiceClient, st, cfg.ElevenLabs.BaseAgentID)
	conversations := conversation.NewService(st, responder.New(completer, cfg.LLM))
	converter := media.NewConverter(voiceClient, transcriber, cfg.ElevenLabs.DefaultVoiceID)
	mcpHandler := mcpserver.Handler(mcpserver.New(mcpserver.NewTools(directory, conversations)))

	api := server.New(directory, conversations, converter, server.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		MaxUpload:   cfg.Server.MaxUpload,
		MCP:         mcpHandler,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.L.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
