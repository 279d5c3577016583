// Command healthcheck is the container probe. It exits non-zero unless the
// local server answers 200 on /healthz (or /readyz with --ready) in time.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "healthcheck",
		Usage: "Probe the local shoutout-companion server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "server listen address", Sources: cli.EnvVars("HTTP_ADDR"), Value: ":8080"},
			&cli.BoolFlag{Name: "ready", Usage: "probe /readyz instead of /healthz"},
			&cli.DurationFlag{Name: "timeout", Value: 3 * time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := "/healthz"
			if cmd.Bool("ready") {
				path = "/readyz"
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			return probe(ctx, http.DefaultClient, probeURL(cmd.String("addr"), path))
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("healthcheck failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// probeURL targets loopback on the port of addr, whatever host it binds.
func probeURL(addr, path string) string {
	port := "8080"
	if _, p, err := net.SplitHostPort(addr); err == nil && p != "" {
		port = p
	}
	return "http://" + net.JoinHostPort("127.0.0.1", port) + path
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %s: %s", url, resp.Status, body)
	}
	return nil
}
