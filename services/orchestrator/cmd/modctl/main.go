// Command modctl builds, packages and publishes mods from a content project.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"modkit/pkg/telemetry"
)

const serviceName = "modctl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	root := newRootCommand(envconfig.OsLookuper(), os.Stdin, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	lookuper  envconfig.Lookuper
	in        io.Reader
	logOut    io.Writer
	logFormat string
}

func newRootCommand(lookuper envconfig.Lookuper, in io.Reader, logOut io.Writer) *cobra.Command {
	c := &cli{lookuper: lookuper, in: in, logOut: logOut}
	cmd := &cobra.Command{
		Use:           "modctl",
		Short:         "Build, package and publish mods",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "auto", "Log format: auto, console or json")

	cmd.AddCommand(
		c.newInitCommand(),
		c.newStatusCommand(),
		c.newPackCommand(),
		c.newReleaseCommand(),
		c.newTestLocalCommand(),
		c.newProfileCommand(),
		c.newUploadCommand(),
		c.newPublishCommand(),
		c.newRecoverCommand(),
		c.newOpenCommand(),
		c.newWhoamiCommand(),
		c.newResetIDCommand(),
		c.newClearCacheCommand(),
		c.newWatchCommand(),
		c.newEventsCommand(),
		newBundleCommand(),
	)
	return cmd
}

func (c *cli) logger() zerolog.Logger {
	switch c.logFormat {
	case "json":
		return telemetry.NewLogger(serviceName, c.logOut)
	case "console":
		return telemetry.NewConsoleLogger(serviceName, c.logOut)
	default:
		if color.NoColor {
			return telemetry.NewLogger(serviceName, c.logOut)
		}
		return telemetry.NewConsoleLogger(serviceName, c.logOut)
	}
}

// run loads the configuration, builds the shared components and runs fn with them.
func (c *cli) run(fn func(ctx context.Context, a *app, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := Load(ctx, c.lookuper)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a, err := newApp(ctx, cfg, c.logger(), cmd.OutOrStdout(), c.in)
		if err != nil {
			return err
		}
		defer a.close(ctx)
		return fn(ctx, a, args)
	}
}
