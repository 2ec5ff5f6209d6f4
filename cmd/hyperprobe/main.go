// Command hyperprobe issues a single request through a hyperhttp.Client
// and prints the response status, protocol, byte count, elapsed time and
// connection-pool stats; it does not report retry counts or circuit
// breaker state. Grounded on
// nabbar-golib's cobra+viper+fatih/color wiring: a single root command,
// flags bound into viper, colorized summary output.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lmousom/hyperhttp/pkg/hyperhttp"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/observability"
	"github.com/lmousom/hyperhttp/pkg/hyperhttp/pool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("hyperprobe: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "hyperprobe <url>",
		Short: "Issue one request through hyperhttp and report client stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, args[0])
		},
	}

	flags := cmd.Flags()
	flags.String("method", "GET", "HTTP method")
	flags.Duration("timeout", 10*time.Second, "per-request timeout")
	flags.Bool("http2", true, "enable HTTP/2 with ALPN negotiation")
	flags.Bool("http2-only", false, "fail rather than downgrade to HTTP/1.1")
	flags.Bool("verbose", false, "log each request phase to stderr")

	_ = v.BindPFlag("method", flags.Lookup("method"))
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = v.BindPFlag("http2", flags.Lookup("http2"))
	_ = v.BindPFlag("http2_only", flags.Lookup("http2-only"))
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))
	v.SetEnvPrefix("hyperprobe")
	v.AutomaticEnv()

	return cmd
}

func run(ctx context.Context, v *viper.Viper, rawURL string) error {
	cfg := hyperhttp.DefaultConfig()
	cfg.EnableHTTP2 = v.GetBool("http2")
	cfg.HTTP2Only = v.GetBool("http2_only")
	cfg.RequestTimeout = v.GetDuration("timeout")
	if v.GetBool("verbose") {
		cfg.Tracer = observability.NewLogTracer(nil)
	}

	client, err := hyperhttp.New(cfg)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	defer client.Close()

	req, err := hyperhttp.NewRequest(v.GetString("method"), rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Close()

	n, _ := io.Copy(io.Discard, resp)

	color.Green("%s %s -> %d (%s, %d bytes, %s)", req.Method, rawURL, resp.StatusCode, resp.Protocol, n, elapsed)
	printStats(client.Stats())
	return nil
}

func printStats(s pool.GlobalStats) {
	color.Cyan("pool: %d total, %d idle, %d in-use", s.Total, s.Idle, s.InUse)
	for key, hs := range s.Hosts {
		color.Cyan("  %s: %d total, %d idle, %d in-use", key, hs.Total, hs.Idle, hs.InUse)
	}
}
