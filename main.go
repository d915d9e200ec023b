package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("imagecrop"),
		kong.Description("Frame photos under a fixed crop window and export the crops."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

type serveCmd struct {
	RootDir string  `arg:"" help:"Root directory to serve files from"`
	Open    bool    `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	JSON    bool    `help:"Output operations in JSON format without executing"`
	Once    bool    `help:"Run the server once and exit after save" default:"true" negatable:""`
	Verbose bool    `help:"Enable verbose logging" default:"false"`
	Size    float64 `help:"Default crop window side in display pixels" default:"200" env:"IMAGECROP_SIZE"`
	Static  string  `help:"Directory with the browser front end, served at /" type:"existingdir" env:"IMAGECROP_STATIC"`
	Format  string  `help:"Output format for crops" enum:"jpeg,png,webp" default:"jpeg" env:"IMAGECROP_FORMAT"`
	Quality int     `help:"Output quality for jpeg and webp" default:"90" env:"IMAGECROP_QUALITY"`
}

func (cmd *serveCmd) Run() error {
	setupLogging(cmd.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	executor := &OperationExecutor{
		BaseDir:   cmd.RootDir,
		OutputDir: filepath.Join(cmd.RootDir, "output"),
		Cropper:   NewImagingCropper(cmd.Format, cmd.Quality),
	}

	app := NewWebApp(Config{
		RootDir:   cmd.RootDir,
		StaticDir: cmd.Static,
		CropSize:  cmd.Size,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
		OnSave: func(ops Operations) {
			if cmd.JSON {
				printJSONL(os.Stdout, ops)
			} else {
				if err := executor.Exec(ctx, ops); err != nil {
					log.Ctx(ctx).Error().Err(err).Msg("Failed to execute operations")
				}
			}

			if cmd.Once {
				cancel()
			}
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Serve  serveCmd  `cmd:"" default:"withargs" help:"Serve a directory of images for framing"`
	Replay replayCmd `cmd:"" help:"Replay recorded input events and print every crop area"`
}

// dimensions is a WxH flag value.
type dimensions struct {
	Width  int
	Height int
}

func (d *dimensions) UnmarshalText(text []byte) error {
	w, h, ok := strings.Cut(strings.ToLower(string(text)), "x")
	if !ok {
		return fmt.Errorf("invalid dimensions %q, expected WxH", text)
	}
	var err error
	if d.Width, err = strconv.Atoi(strings.TrimSpace(w)); err != nil {
		return fmt.Errorf("invalid width in %q: %w", text, err)
	}
	if d.Height, err = strconv.Atoi(strings.TrimSpace(h)); err != nil {
		return fmt.Errorf("invalid height in %q: %w", text, err)
	}
	return nil
}

func (d dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

func printJSONL[T any](w io.Writer, data []T) {
	enc := json.NewEncoder(w)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
