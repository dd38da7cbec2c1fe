package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/stagesim/pioneer/internal/api"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/internal/odometry"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

func loadConfig(c *cli.Context) {
	if err := config.Load(c.Path(flagConfigDir)); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: failed to load config: %v\n", err)
	}
}

// RunAction starts the simulator and blocks until interrupted, the
// --duration elapses or stdin closes.
func RunAction(c *cli.Context) (err error) {
	loadConfig(c)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration(flagDuration); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	svc, err := newService(ctx, clock.New())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, svc.shutdown())
	}()

	return svc.run(ctx, c.Bool(flagStdin), c.String(flagListen), c.String(flagTag))
}

// InspectAction decodes one hex odometry packet and prints it as JSON.
func InspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("inspect takes exactly one hex packet", 2)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(c.Args().First()))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	pkt, err := odometry.Decode(raw)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(pkt, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// ExportAction writes one session of a sqlite recording out as JSON.
func ExportAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("export takes exactly one database file", 2)
	}
	path, err := exportSession(c.Args().First(), c.String(flagSession), config.MemoryConfig{
		OutputDir:      c.Path(flagOut),
		CompressOutput: c.Bool(flagCompress),
		CSV:            c.Bool(flagCSV),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

// UploadAction sends an exported recording to the configured server.
func UploadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("upload takes exactly one file", 2)
	}
	loadConfig(c)

	key := config.GetString("api.apiKey")
	if key == "" {
		return cli.Exit("api.apiKey is not configured", 1)
	}
	client := api.New(config.GetString("api.serverUrl"), key)

	ctx, cancel := context.WithTimeout(c.Context, uploadTimeout)
	defer cancel()
	err := client.Upload(ctx, c.Args().First(), core.UploadMetadata{
		SessionName: c.String("name"),
		DeviceID:    c.String("device"),
		Duration:    c.Float64("duration"),
		Tag:         c.String(flagTag),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "uploaded", c.Args().First())
	return nil
}
