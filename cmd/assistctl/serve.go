package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/autoassist"
	"github.com/cexll/assisthub-go/pkg/config"
	"github.com/cexll/assisthub-go/pkg/server"
)

func serveCommand(ctx context.Context, argv []string, cfgPath string, streams ioStreams) error {
	set := flag.NewFlagSet("serve", flag.ContinueOnError)
	set.SetOutput(streams.err)
	var (
		addrFlag   = set.String("addr", "", "Address to bind (overrides listen_addr from config).")
		configFlag = set.String("config", cfgPath, "Path to service config file.")
		watchFlag  = set.Bool("watch", false, "Reload provider settings when the config file changes.")
	)
	set.Usage = func() {
		fmt.Fprintln(streams.err, "Usage: assistctl serve [flags]")
		fmt.Fprintln(streams.err, "\nFlags:")
		set.PrintDefaults()
		fmt.Fprintln(streams.err, "\nRoutes:")
		fmt.Fprintln(streams.err, "  POST /api/chat              Send a message to an assistant")
		fmt.Fprintln(streams.err, "  POST /api/chat/edit         Edit a prior message and replay")
		fmt.Fprintln(streams.err, "  POST /api/autoassist        Submit a request to AutoAssist")
		fmt.Fprintln(streams.err, "  GET  /api/autoassist/stream Stream run events via SSE")
		fmt.Fprintln(streams.err, "  GET  /api/assistants        List configured assistants")
		fmt.Fprintln(streams.err, "  GET  /health                Health probe")
	}
	if err := set.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	a, err := newApp(ctx, *configFlag)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	srv := server.New(a.manager, a.orch, a.log)
	a.orch.SetEventSink(srv.Stream())

	if *watchFlag {
		go func() {
			err := config.Watch(ctx, *configFlag, func(cfg *config.ServiceConfig) {
				a.log.Info("config reloaded", zap.String("path", cfg.SourcePath))
			}, func(err error) {
				a.log.Warn("config reload failed", zap.Error(err))
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	addr := a.cfg.ListenAddr
	if *addrFlag != "" {
		addr = *addrFlag
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()
	httpSrv := &http.Server{Handler: buildMux(srv, a.orch)}
	if streams.out != nil {
		fmt.Fprintf(streams.out, "assistctl serve listening on http://%s\n", listener.Addr())
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(listener)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildMux(srv *server.Server, orch *autoassist.Orchestrator) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", srv))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		response := map[string]any{
			"status": "ok",
			"state":  orch.State(),
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		_ = json.NewEncoder(w).Encode(response)
	})
	return mux
}
