// Command pioneer runs the simulated differential-drive robot and serves its
// position and localize interfaces over a line protocol.
package main

import (
	"fmt"
	"os"

	"github.com/stagesim/pioneer/internal/config"
	"github.com/urfave/cli/v2"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ServiceName string = "pioneer"
)

const (
	flagConfigDir = "config-dir"
	flagStdin     = "stdin"
	flagListen    = "listen"
	flagTag       = "tag"
	flagDuration  = "duration"
	flagSession   = "session"
	flagOut       = "out"
	flagCompress  = "compress"
	flagCSV       = "csv"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    ServiceName,
		Usage:   "simulated mobile robot with a ground-truth localizer",
		Version: fmt.Sprintf("%s (%s)", CurrentVersion, BuildDate),
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfigDir,
				Aliases: []string{"c"},
				Value:   ".",
				Usage:   "directory holding " + config.FileName,
				EnvVars: []string{"PIONEER_CONFIG_DIR"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the simulation and serve the line protocol",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagStdin,
						Usage: "read requests from stdin instead of listening on TCP",
					},
					&cli.StringFlag{
						Name:  flagListen,
						Usage: "TCP address to listen on, overrides frontend.listen",
					},
					&cli.StringFlag{
						Name:  flagTag,
						Usage: "tag for the recorded session, overrides defaultTag",
					},
					&cli.DurationFlag{
						Name:  flagDuration,
						Usage: "stop after this much wall time (0 runs until interrupted)",
					},
				},
				Action: RunAction,
			},
			{
				Name:      "inspect",
				Usage:     "decode a hex encoded odometry packet",
				ArgsUsage: "<hex packet>",
				Action:    InspectAction,
			},
			{
				Name:      "export",
				Usage:     "export a session from a sqlite recording as JSON",
				ArgsUsage: "<database file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagSession,
						Usage: "session id to export (default: most recent)",
					},
					&cli.PathFlag{
						Name:  flagOut,
						Value: ".",
						Usage: "output directory",
					},
					&cli.BoolFlag{
						Name:  flagCompress,
						Usage: "gzip the JSON output",
					},
					&cli.BoolFlag{
						Name:  flagCSV,
						Usage: "also write a per-frame CSV",
					},
				},
				Action: ExportAction,
			},
			{
				Name:      "upload",
				Usage:     "upload an exported recording to the server",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "session name", Required: true},
					&cli.StringFlag{Name: "device", Usage: "device id"},
					&cli.Float64Flag{Name: "duration", Usage: "simulated seconds"},
					&cli.StringFlag{Name: flagTag, Usage: "session tag"},
				},
				Action: UploadAction,
			},
		},
	}
}
