package commands

import (
	"context"
	"log/slog"

	"github.com/EliFuzz/igate/internal/config"
	"github.com/EliFuzz/igate/pkg/catalog"
	mcpgateway "github.com/EliFuzz/igate/pkg/mcp-gateway"
	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

// Version is reported by --version. Set via ldflags at build time.
var Version = "dev"

// app carries state shared by every subcommand of one invocation.
type app struct {
	configPath       string
	logLevelOverride string

	cfg *config.Config

	// newTransport replaces backend transport selection in tests.
	newTransport mcpmgr.TransportFactory
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "igate",
		Short: "igate - MCP tool gateway",
		Long: `igate fronts any number of MCP servers and exposes their tools through two
gateway tools: search_tool returns a tool's schemas and execute_tool runs it.
Each server's tools are filtered by its allow/deny policy.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return configureLogger(cfg, a.logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the config file (default: ./igate.yaml, ./igate.json or ~/.config/igate/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(a),
		newToolsCmd(a),
		newSearchCmd(a),
		newExecCmd(a),
	)

	return cmd
}

func (a *app) newManager(observer mcpmgr.SessionObserver) *mcpmgr.Manager {
	return mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		DefaultTimeout:    a.cfg.Gateway.CallTimeout,
		DefaultLogJSONRPC: a.cfg.Log.JSONRPC,
		NewTransport:      a.newTransport,
		Observer:          observer,
		Logger:            slog.Default(),
	})
}

func (a *app) buildRegistry(ctx context.Context, mgr *mcpmgr.Manager) *catalog.Registry {
	return catalog.Build(ctx, mgr, a.cfg.Backends(), slog.Default())
}

func (a *app) newGateway(reg *catalog.Registry, mgr *mcpmgr.Manager, observer mcpgateway.CallObserver) (*mcpgateway.Gateway, error) {
	return mcpgateway.NewGateway(reg, mgr, &mcpgateway.Options{
		Implementation: &mcp.Implementation{Name: a.cfg.Gateway.Name, Version: a.cfg.Gateway.Version},
		Addr:           a.cfg.Gateway.HTTP.Addr,
		Path:           a.cfg.Gateway.HTTP.Path,
		CORSOrigins:    a.cfg.Gateway.HTTP.CORSOrigins,
		Observer:       observer,
		Logger:         slog.Default(),
	})
}

// openGateway discovers every backend and returns a gateway over the result.
// Used by the one-shot commands, which need no telemetry.
func (a *app) openGateway(ctx context.Context) (*mcpgateway.Gateway, *catalog.Registry, error) {
	mgr := a.newManager(nil)
	reg := a.buildRegistry(ctx, mgr)
	gw, err := a.newGateway(reg, mgr, nil)
	if err != nil {
		return nil, nil, err
	}
	return gw, reg, nil
}
