// Package main provides the CLI entry point for subscale.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ideamans/go-l10n"
	"github.com/urfave/cli/v2"

	"github.com/user/subscale/pkg/adapters/filesink"
	"github.com/user/subscale/pkg/adapters/ggrenderer"
	"github.com/user/subscale/pkg/adapters/imagingdecoder"
	"github.com/user/subscale/pkg/adapters/logger"
	"github.com/user/subscale/pkg/adapters/nullsink"
	"github.com/user/subscale/pkg/adapters/osfilesystem"
	"github.com/user/subscale/pkg/adapters/oshost"
	"github.com/user/subscale/pkg/adapters/smartdecoder"
	"github.com/user/subscale/pkg/async"
	"github.com/user/subscale/pkg/config"
	"github.com/user/subscale/pkg/locator"
	"github.com/user/subscale/pkg/pixfmt"
	"github.com/user/subscale/pkg/ports"
	"github.com/user/subscale/pkg/regionerr"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "subscale",
		Usage:   l10n.T("Decode regions of large images at reduced sample sizes"),
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: l10n.T("YAML configuration file")},
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: l10n.T("Decoder backend (native, imaging)")},
			&cli.BoolFlag{Name: "no-fallback", Usage: l10n.T("Do not fall back to the imaging backend")},
			&cli.StringFlag{Name: "cache-dir", Usage: l10n.T("Directory for the imaging disk cache")},
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: l10n.T("Log level (debug, info, warn, error)")},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"Q"}, Usage: l10n.T("Suppress all log output")},
			&cli.StringFlag{Name: "debug-dir", Usage: l10n.T("Write source info and decoded tiles to this directory")},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     l10n.T("Show image dimensions and tile size"),
				ArgsUsage: "<locator>",
				Action:    runInfo,
			},
			{
				Name:      "decode",
				Usage:     l10n.T("Decode one region to an image file"),
				ArgsUsage: "<locator>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "rect", Aliases: []string{"r"}, Usage: l10n.T("Region as x,y,w,h (default: whole image)")},
					&cli.IntFlag{Name: "sample", Aliases: []string{"s"}, Value: 1, Usage: l10n.T("Sample size (1 = full resolution)")},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: l10n.T("Output PNG or JPEG file path (required)")},
				},
				Action: runDecode,
			},
			{
				Name:      "render",
				Usage:     l10n.T("Decode the whole image tile by tile and compose it"),
				ArgsUsage: "<locator>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "sample", Aliases: []string{"s"}, Value: 4, Usage: l10n.T("Sample size (1 = full resolution)")},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true, Usage: l10n.T("Output PNG or JPEG file path (required)")},
					&cli.BoolFlag{Name: "grid", Usage: l10n.T("Outline each tile")},
				},
				Action: runRender,
			},
			{
				Name:  "version",
				Usage: l10n.T("Show version information"),
				Action: func(c *cli.Context) error {
					fmt.Println(l10n.F("subscale version %s", version))
					return nil
				},
			},
		},
	}
}

// env holds the adapters shared by every command.
type env struct {
	cfg      config.Config
	log      ports.Logger
	fs       *osfilesystem.FileSystem
	host     *oshost.Host
	renderer *ggrenderer.Renderer
	sink     ports.DebugSink
}

func setup(c *cli.Context) (*env, error) {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	// Command line overrides
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.Bool("no-fallback") {
		cfg.Fallback = false
	}
	if c.IsSet("cache-dir") {
		cfg.CacheDir = c.String("cache-dir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("debug-dir") {
		cfg.Debug = true
		cfg.DebugDir = c.String("debug-dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var log ports.Logger
	if c.Bool("quiet") {
		log = logger.NewNoop()
	} else {
		log = logger.NewConsole(cfg.Level())
	}

	fs := osfilesystem.New()
	renderer := ggrenderer.New()

	var sink ports.DebugSink
	if cfg.Debug {
		if err := fs.MkdirAll(cfg.DebugDir); err != nil {
			return nil, fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(cfg.DebugDir, fs, renderer)
	} else {
		sink = nullsink.New()
	}

	if err := imagingdecoder.Shared().Configure(cfg.CacheOptions(fs)); err != nil {
		return nil, fmt.Errorf("configure caches: %w", err)
	}

	return &env{
		cfg:      cfg,
		log:      log,
		fs:       fs,
		host:     oshost.New(cfg.HostConfig(), fs, log),
		renderer: renderer,
		sink:     sink,
	}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func (e *env) signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			e.log.Warn("Interrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// open creates a decoder and initialises it for the locator argument.
func (e *env) open(ctx context.Context, c *cli.Context) (*smartdecoder.Decoder, ports.ImageInfo, error) {
	if c.NArg() != 1 {
		return nil, ports.ImageInfo{}, errors.New(l10n.T("exactly one locator argument is required"))
	}
	loc := normalizeLocator(c.Args().First())

	opts, err := e.cfg.SmartOptions()
	if err != nil {
		return nil, ports.ImageInfo{}, err
	}
	opts.Runner = async.Default()
	opts.FileSystem = e.fs
	opts.Sink = e.sink
	opts.Logger = e.log
	opts.Cache = imagingdecoder.Shared()

	dec, info, err := smartdecoder.New(opts)
	if err != nil {
		return nil, ports.ImageInfo{}, err
	}
	if info.Fallback != "" {
		e.log.Debug("Using %s backend with %s fallback", info.Backend, info.Fallback)
	} else {
		e.log.Debug("Using %s backend", info.Backend)
	}

	imageInfo, err := dec.Init(ctx, e.host, loc).Wait(ctx)
	if err != nil {
		dec.Recycle()
		return nil, ports.ImageInfo{}, err
	}
	return dec, imageInfo, nil
}

func runInfo(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.signalContext()
	defer cancel()

	dec, info, err := e.open(ctx, c)
	if err != nil {
		return err
	}
	defer dec.Recycle()

	fmt.Println(l10n.F("Image %s: %dx%d, tile size %dx%d",
		c.Args().First(), info.Dimensions.Width, info.Dimensions.Height, info.TileSize.Width, info.TileSize.Height))
	return nil
}

func runDecode(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.signalContext()
	defer cancel()

	output := c.String("output")
	format, ok := ports.ParseImageFormat(filepath.Ext(output))
	if !ok {
		return fmt.Errorf("unsupported output extension: %s", output)
	}

	dec, info, err := e.open(ctx, c)
	if err != nil {
		return err
	}
	defer dec.Recycle()

	rect := info.Dimensions.Bounds()
	if s := c.String("rect"); s != "" {
		if rect, err = parseRect(s); err != nil {
			return err
		}
	}

	tile, err := dec.DecodeRegion(ctx, rect, c.Int("sample")).Wait(ctx)
	if err != nil {
		return err
	}

	return e.save(tile, output, format)
}

func runRender(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	ctx, cancel := e.signalContext()
	defer cancel()

	output := c.String("output")
	format, ok := ports.ParseImageFormat(filepath.Ext(output))
	if !ok {
		return fmt.Errorf("unsupported output extension: %s", output)
	}
	sample := c.Int("sample")
	if sample < 1 {
		return fmt.Errorf("%w: sample size %d", regionerr.ErrInvalidRegion, sample)
	}

	dec, info, err := e.open(ctx, c)
	if err != nil {
		return err
	}
	defer dec.Recycle()

	rects := tileGrid(info.Dimensions, info.TileSize, sample)
	e.log.Info("Rendering %d tiles at sample size %d", len(rects), sample)

	// All tiles are queued up front; the runner serialises them.
	tasks := make([]*async.Task[*pixfmt.RGB565], len(rects))
	for i, rect := range rects {
		tasks[i] = dec.DecodeRegion(ctx, rect, sample)
	}

	width := ceilDiv(info.Dimensions.Width, sample)
	height := ceilDiv(info.Dimensions.Height, sample)
	canvas := e.renderer.CreateCanvas(width, height, config.ParseColor(e.cfg.BackgroundColor))
	grid := config.ParseColor(e.cfg.GridColor)

	for i, task := range tasks {
		tile, err := task.Wait(ctx)
		if err != nil {
			if regionerr.Recoverable(err) {
				e.log.Warn("Skipping tile %v: %s", rects[i], err)
				continue
			}
			return err
		}
		x, y := rects[i].Min.X/sample, rects[i].Min.Y/sample
		canvas.DrawImage(tile, x, y)
		if c.Bool("grid") {
			b := tile.Bounds()
			canvas.DrawRectStroke(x, y, b.Dx(), b.Dy(), grid, 1)
		}
	}

	return e.save(canvas.ToImage(), output, format)
}

func (e *env) save(img image.Image, output string, format ports.ImageFormat) error {
	data, err := e.renderer.EncodeImage(img, format, e.cfg.Quality)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err := e.fs.WriteFile(output, data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	e.log.Info("Output saved to %s", output)
	return nil
}

// normalizeLocator turns a bare filesystem path into a file locator. Anything
// with a scheme is passed through.
func normalizeLocator(arg string) string {
	if strings.Contains(arg, "://") {
		return arg
	}
	if abs, err := filepath.Abs(arg); err == nil {
		arg = abs
	}
	return locator.FilePrefix + filepath.ToSlash(arg)
}

// parseRect parses "x,y,w,h" into a rectangle.
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid rect %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid rect %q: %w", s, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid rect %q: width and height must be positive", s)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

// tileGrid splits the image into source rectangles whose decoded size fits
// the tile size at the given sample size.
func tileGrid(dim ports.Dimensions, size ports.TileSize, sample int) []image.Rectangle {
	stepX := size.Width * sample
	stepY := size.Height * sample
	if stepX <= 0 || stepY <= 0 {
		return []image.Rectangle{dim.Bounds()}
	}

	var rects []image.Rectangle
	for y := 0; y < dim.Height; y += stepY {
		for x := 0; x < dim.Width; x += stepX {
			rects = append(rects, image.Rect(x, y, min(x+stepX, dim.Width), min(y+stepY, dim.Height)))
		}
	}
	return rects
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
