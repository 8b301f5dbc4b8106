package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/EliFuzz/igate/internal/telemetry"
	"github.com/EliFuzz/igate/pkg/catalog"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Discover backends and serve search_tool and execute_tool",
		Long: `Discover the tools of every configured server, then serve the gateway.
The gateway speaks MCP over stdio unless an HTTP address is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd)
		},
	}
	cmd.Flags().String("http", "", "Serve Streamable HTTP on this address instead of stdio (overrides gateway.http.addr)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if addr, _ := cmd.Flags().GetString("http"); strings.TrimSpace(addr) != "" {
		a.cfg.Gateway.HTTP.Addr = strings.TrimSpace(addr)
	}

	providers, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:  a.cfg.Telemetry.ServiceName,
		OTLPEndpoint: a.cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	observer, err := providers.Observer()
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	mgr := a.newManager(observer)
	started := time.Now()
	reg := a.buildRegistry(ctx, mgr)
	slog.Info("catalog ready", "servers", reg.Len(), "configured", len(a.cfg.Servers), "elapsed", time.Since(started))

	gw, err := a.newGateway(reg, mgr, observer)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	if a.cfg.Gateway.HTTP.Addr == "" {
		slog.Info("serving over stdio")
		err = gw.RunStdio(ctx)
	} else {
		gw.ServeMux().Handle("/healthz", healthHandler(reg))
		err = gw.ListenAndServe(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func healthHandler(reg *catalog.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"servers": reg.Names(),
		})
	})
}
