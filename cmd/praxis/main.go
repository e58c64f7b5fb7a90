// Command praxis runs the agentic execution engine.
//
// Usage:
//
//	praxis serve --config config.yaml
//	praxis validate --config config.yaml
//	praxis version
//	praxis schema
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"

	praxis "github.com/praxislabs/praxis"
	"github.com/praxislabs/praxis/pkg/config"
	"github.com/praxislabs/praxis/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the engine HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the config file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(praxis.GetVersion().String())
	return nil
}

// ValidateCmd checks the config without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("config is valid (server %s, database %s, %d providers, %d MCP servers)\n",
		cfg.Server.Address(), cfg.Database.Driver, len(cfg.Providers), len(cfg.MCPServers))
	return nil
}

// SchemaCmd prints the config JSON Schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&config.Config{})
	out, err := schema.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// ServeCmd starts the engine.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	if cli.Config != "" {
		// Infrastructure config needs a restart; the watcher validates
		// edits early so a bad file never waits for the next deploy.
		go func() {
			_ = config.Watch(ctx, cli.Config, func(next *config.Config) {
				slog.Info("config file changed and validated, restart to apply",
					"path", cli.Config, "server", next.Server.Address())
			})
		}()
	}

	return engine.Run(ctx, cfg.Server.Address())
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func main() {
	config.LoadEnvFiles()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("praxis"),
		kong.Description("Agentic execution engine: plan, repair, execute, report."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "praxis: %v\n", err)
		os.Exit(1)
	}
}
