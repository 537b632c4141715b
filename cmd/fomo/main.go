package main

import (
	"context"
	"encoding/json"
	"flag"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fomo/config"
	"github.com/nvr-ai/go-fomo/images"
	"github.com/nvr-ai/go-fomo/logger"
	"github.com/nvr-ai/go-fomo/models"
	"github.com/nvr-ai/go-fomo/models/fomo"
	"github.com/nvr-ai/go-fomo/models/model"
	"github.com/nvr-ai/go-fomo/models/postprocess"
	"github.com/nvr-ai/go-fomo/util"
)

type options struct {
	configPath  string
	imagesDir   string
	labelsDir   string
	overlaysDir string
	modelPath   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&opts.imagesDir, "images", "", "Directory of images to run the detector on")
	flag.StringVar(&opts.labelsDir, "labels", "", "Directory of \"class x y [w h]\" label files; enables evaluation")
	flag.StringVar(&opts.overlaysDir, "overlays", "", "Directory to write class grid overlays to")
	flag.StringVar(&opts.modelPath, "model", "", "Path to the ONNX model (overrides model.model_path)")
	flag.Parse()

	if opts.imagesDir == "" {
		log.Fatal("-images is required")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if opts.modelPath != "" {
		cfg.Model.ModelPath = opts.modelPath
	}

	zl, err := logger.New(cfg.Log.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := exitCode(zl, run(ctx, cfg, opts, zl, os.Stdout))
	stop()
	os.Exit(code)
}

// exitCode logs a failed run and flushes the logger, since os.Exit skips deferred calls.
func exitCode(zl *zap.Logger, err error) int {
	defer func() { _ = zl.Sync() }()
	if err != nil {
		zl.Error("fomo run failed", zap.Error(err))
		return 1
	}
	return 0
}

// report is the JSON document written to stdout.
type report struct {
	Images     []imageReport `json:"images"`
	Evaluation *fomo.Report  `json:"evaluation,omitempty"`
}

type imageReport struct {
	Name       string               `json:"name"`
	Detections []postprocess.Result `json:"detections"`
}

func run(ctx context.Context, cfg *config.AppConfig, opts options, zl *zap.Logger, out io.Writer) error {
	m, err := models.NewModel(model.NewModelArgs{
		Name:       model.ModelNameFOMO,
		Head:       cfg.Head,
		Network:    cfg.Model,
		Decode:     cfg.Eval.Decode,
		ClassNames: cfg.ClassNames,
		Logger:     zl,
	})
	if err != nil {
		return errors.Wrap(err, "creating model")
	}
	defer m.Close()

	files, err := util.LoadDirectoryImageFiles(opts.imagesDir)
	if err != nil {
		return errors.Wrap(err, "loading images")
	}
	var labels map[string][]fomo.Annotation
	if opts.labelsDir != "" {
		if labels, err = util.LoadLabels(opts.labelsDir, cfg.Eval.ClassOffset); err != nil {
			return errors.Wrap(err, "loading labels")
		}
	}
	if opts.overlaysDir != "" {
		if err := os.MkdirAll(opts.overlaysDir, 0o755); err != nil {
			return err
		}
	}

	var (
		doc     report
		samples []fomo.Sample
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := file.Image().Decode()
		if err != nil {
			return errors.Wrap(err, file.Path)
		}
		features, err := m.PreProcess([]image.Image{img})
		if err != nil {
			return err
		}
		annotations := labels[file.Name]
		instances, err := m.Predict(ctx, features, annotations)
		if err != nil {
			return errors.Wrap(err, file.Path)
		}
		inst := instances[0]
		doc.Images = append(doc.Images, imageReport{Name: file.Name, Detections: inst.Detections})

		zl.Info("fomo detections",
			zap.String("image", file.Name),
			zap.Int("count", len(inst.Detections)),
			zap.Any("detections", inst.Detections),
		)

		pred := batchOf(inst.Pred)
		if opts.overlaysDir != "" {
			path := filepath.Join(opts.overlaysDir, file.Name+".png")
			if err := writeOverlay(path, img, pred, cfg.Eval.OverlayOpacity); err != nil {
				return err
			}
		}
		if labels != nil {
			samples = append(samples, fomo.Sample{Name: file.Name, Pred: pred, Annotations: annotations})
		}
	}

	if labels != nil {
		if doc.Evaluation, err = fomo.NewEvaluator(m.Head(), cfg.Eval.Workers).Evaluate(ctx, samples); err != nil {
			return errors.Wrap(err, "evaluating")
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// batchOf adds a batch dimension of 1 to an (H, W, C) map.
func batchOf(pred *tensor.Dense) *tensor.Dense {
	shape := pred.Shape()
	return tensor.New(tensor.WithShape(1, shape[0], shape[1], shape[2]), tensor.WithBacking(pred.Data()))
}

// writeOverlay paints the arg-max class grid of a (1, H, W, C) map over img as PNG.
func writeOverlay(path string, img image.Image, pred *tensor.Dense, opacity float64) error {
	grid, err := fomo.ClassGrid(pred)
	if err != nil {
		return err
	}
	shape := pred.Shape()
	b := img.Bounds()
	layer := images.RenderClassGrid(grid.Data().([]int), shape[1], shape[2], b.Dx(), b.Dy())

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, images.Overlay(img, layer, opacity)); err != nil {
		f.Close()
		return errors.Wrap(err, path)
	}
	return f.Close()
}
