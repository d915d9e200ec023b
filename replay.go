package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"imagecrop/crop"
)

type replayCmd struct {
	Events    string     `arg:"" optional:"" help:"File of newline delimited input events, stdin when omitted" type:"existingfile"`
	Container dimensions `help:"Container size in display pixels" default:"300x300"`
	Size      float64    `help:"Crop window side in display pixels" default:"200"`
	Image     string     `help:"Image whose intrinsic size is used" type:"existingfile" xor:"source"`
	Origin    dimensions `help:"Intrinsic image size, instead of reading an image" xor:"source"`
	Output    string     `help:"Write the final crop of --image to this file" type:"path"`
	Quality   int        `help:"Output quality for jpeg and webp" default:"90"`
	Verbose   bool       `help:"Enable verbose logging" default:"false"`
}

func (cmd *replayCmd) Run() error {
	setupLogging(cmd.Verbose)
	ctx := log.Logger.WithContext(context.Background())

	origin := cmd.Origin
	if cmd.Image == "" && origin == (dimensions{}) {
		return errors.New("one of --image or --origin is required")
	}
	if cmd.Image != "" {
		w, h, err := imageDimensions(cmd.Image)
		if err != nil {
			return err
		}
		origin = dimensions{Width: w, Height: h}
	}
	if cmd.Output != "" && cmd.Image == "" {
		return errors.New("--output needs --image")
	}

	in := io.Reader(os.Stdin)
	if cmd.Events != "" {
		f, err := os.Open(cmd.Events)
		if err != nil {
			return fmt.Errorf("failed to open events: %w", err)
		}
		defer f.Close()
		in = f
	}

	area, err := replay(ctx, in, os.Stdout, replayOptions{
		Container: crop.Size{Width: float64(cmd.Container.Width), Height: float64(cmd.Container.Height)},
		Size:      cmd.Size,
		Origin:    origin,
	})
	if err != nil {
		return err
	}

	if cmd.Output == "" {
		return nil
	}
	return exportCrop(ctx, cmd.Image, cmd.Output, CropFromArea(area), cmd.Quality)
}

type replayOptions struct {
	Container crop.Size
	Size      float64
	Origin    dimensions
}

// replay drives a single engine with the events read from r, writes every
// emitted area to w as a JSON line, and returns the last one.
func replay(ctx context.Context, r io.Reader, w io.Writer, opts replayOptions) (crop.AreaInfo, error) {
	var (
		last   crop.AreaInfo
		encErr error
	)
	enc := json.NewEncoder(w)
	feed := &crop.Feed{}
	engine := crop.New(ctx, opts.Container, crop.Options{
		Size:  opts.Size,
		Input: []crop.InputSource{feed},
		OnChanged: func(a crop.AreaInfo) {
			last = a
			if encErr == nil {
				encErr = enc.Encode(a)
			}
		},
	})
	defer engine.Destroy()

	if err := engine.Load(opts.Origin.Width, opts.Origin.Height); err != nil {
		return crop.AreaInfo{}, fmt.Errorf("failed to load %s image: %w", opts.Origin, err)
	}

	events := 0
	if err := decodeEvents(r, func(ev crop.Event) {
		events++
		feed.Push(ev)
	}); err != nil {
		return last, err
	}
	if encErr != nil {
		return last, fmt.Errorf("failed to write area: %w", encErr)
	}

	log.Ctx(ctx).Debug().Int("events", events).Interface("area", last).Msg("replay finished")
	return last, nil
}

func exportCrop(ctx context.Context, imagePath, outputPath string, c Crop, quality int) error {
	format := "jpeg"
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".png":
		format = "png"
	case ".webp":
		format = "webp"
	}
	cropper := NewImagingCropper(format, quality)

	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", imagePath, err)
	}
	defer f.Close()

	var b bytes.Buffer
	if err := cropper.Crop(ctx, f, &b, c); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, b.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	log.Ctx(ctx).Info().Str("output", outputPath).Stringer("crop", c).Msg("crop written")
	return nil
}
