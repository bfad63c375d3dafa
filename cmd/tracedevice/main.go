// Command tracedevice runs the device side of the venue check-in protocol
// against a trace backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/venue-trace/internal/config"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{deps: defaultDeps()}
	err := c.rootCmd().ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds the state of one invocation. The app is wired lazily by the
// root PersistentPreRunE.
type cli struct {
	deps    deps
	cfgFile string
	envFile string
	app     *app
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tracedevice",
		Short:         "Venue check-in device",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{File: c.cfgFile, EnvFile: c.envFile})
			if err != nil {
				return err
			}
			c.app, err = newApp(cmd.Context(), cfg, c.deps)
			return err
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", ".env file with TRACE_* overrides")

	root.AddCommand(
		c.registerCmd(),
		c.qrCmd(),
		c.checkinCmd(),
		c.checkoutCmd(),
		c.statusCmd(),
		c.pollCmd(),
		c.keysCmd(),
		c.accessedCmd(),
		c.exportCmd(),
		c.deleteAccountCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
