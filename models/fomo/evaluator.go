package fomo

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// Sample is one channels-last prediction map with its ground truth.
type Sample struct {
	Name        string
	Pred        *tensor.Dense
	Annotations []Annotation
}

// SampleReport is the score of one sample.
type SampleReport struct {
	Name    string  `json:"name"`
	Loss    float32 `json:"loss"`
	Metrics Metrics `json:"metrics"`
}

// Report aggregates a dataset. Metrics are micro-averaged: confusion counts
// are summed over samples before the ratios are taken.
type Report struct {
	Samples   int            `json:"samples"`
	MeanLoss  float32        `json:"mean_loss"`
	Metrics   Metrics        `json:"metrics"`
	PerSample []SampleReport `json:"per_sample"`
}

// Evaluator scores many samples on a bounded pool of workers.
type Evaluator struct {
	cfg     Config
	workers int
	log     *zap.Logger
}

// NewEvaluator creates an evaluator using the configuration and logger of h.
// A non-positive worker count uses one worker per CPU.
func NewEvaluator(h *Head, workers int) *Evaluator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Evaluator{cfg: h.cfg, workers: workers, log: h.log}
}

// Evaluate computes the loss and metrics of every sample and aggregates them.
//
// Arguments:
//   - ctx: Cancelling ctx stops dispatching new samples.
//   - samples: Prediction maps with their annotations.
//
// Returns:
//   - *Report: Per-sample scores in input order plus the aggregate.
//   - error: The first sample error, or ctx.Err() if cancelled.
func (e *Evaluator) Evaluate(ctx context.Context, samples []Sample) (*Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reports := make([]SampleReport, len(samples))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < min(e.workers, max(len(samples), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s := samples[i]
				res, err := ComputeLoss(s.Pred, s.Annotations, e.cfg)
				if err != nil {
					fail(errors.Wrapf(err, "sample %d (%s)", i, s.Name))
					continue
				}
				reports[i] = SampleReport{Name: s.Name, Loss: res.Total, Metrics: res.Metrics}
			}
		}()
	}

dispatch:
	for i := range samples {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{Samples: len(samples), PerSample: reports}
	var sum float64
	for _, r := range reports {
		sum += float64(r.Loss)
		report.Metrics.Add(r.Metrics)
	}
	if len(reports) > 0 {
		report.MeanLoss = float32(sum / float64(len(reports)))
	}

	e.log.Info("fomo evaluation",
		zap.Int("samples", report.Samples),
		zap.Int("workers", e.workers),
		zap.Float32("mean_loss", report.MeanLoss),
		zap.Float32("precision", report.Metrics.Precision),
		zap.Float32("recall", report.Metrics.Recall),
		zap.Float32("f1", report.Metrics.F1),
	)
	return report, nil
}
