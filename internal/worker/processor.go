package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
)

// AssetStore is what the reconciler needs to find originals without previews.
type AssetStore interface {
	ListOriginals() ([]string, error)
	PreviewExists(name string) bool
	OriginalModTime(name string) (time.Time, error)
	OpenOriginal(name string) (io.ReadCloser, error)
}

// Previewer regenerates a single preview.
type Previewer interface {
	GeneratePreview(ctx context.Context, name string, data []byte, format models.Format) (PreviewResult, error)
}

type ReconcilerConfig struct {
	Store        AssetStore
	Previews     Previewer
	Logger       *observability.SugaredLogger
	PollInterval time.Duration
	// MinAge leaves recently written originals alone; their upload may
	// still be producing the preview.
	MinAge time.Duration
}

// Reconciler periodically regenerates previews for originals that lost
// theirs, e.g. after a crash between the two writes of an upload.
type Reconciler struct {
	config *ReconcilerConfig
	done   chan struct{}
	exited chan struct{}
}

// ReconcileReport summarises one pass.
type ReconcileReport struct {
	Scanned  int
	Repaired int
	Skipped  int
	Pending  int
	Failed   int
}

func NewReconciler(config *ReconcilerConfig) *Reconciler {
	if config.PollInterval == 0 {
		config.PollInterval = time.Minute
	}
	if config.MinAge == 0 {
		config.MinAge = time.Minute
	}
	return &Reconciler{
		config: config,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
	r.config.Logger.Infof("preview reconciler started, interval %s", r.config.PollInterval)
}

// Stop ends the loop and waits for an in-progress pass to finish.
func (r *Reconciler) Stop() {
	close(r.done)
	<-r.exited
	r.config.Logger.Info("preview reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.exited)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.config.Logger.Errorf("reconcile pass failed: %v", err)
			}
		}
	}
}

// RunOnce scans storage once and regenerates every missing preview it can.
// Files whose names are not "<id>.png" or "<id>.jpeg" are skipped.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	names, err := r.config.Store.ListOriginals()
	if err != nil {
		return report, err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		if r.config.Store.PreviewExists(name) {
			continue
		}

		modTime, err := r.config.Store.OriginalModTime(name)
		if err != nil {
			// removed since the listing
			continue
		}
		if time.Since(modTime) < r.config.MinAge {
			report.Pending++
			continue
		}

		_, format, ok := models.ParseAssetName(name)
		if !ok {
			report.Skipped++
			observability.PreviewsReconciled.WithLabelValues("skipped").Inc()
			continue
		}

		if err := r.repair(ctx, name, format); err != nil {
			report.Failed++
			observability.PreviewsReconciled.WithLabelValues("failed").Inc()
			r.config.Logger.Warnf("could not regenerate preview for %s: %v", name, err)
			continue
		}

		report.Repaired++
		observability.PreviewsReconciled.WithLabelValues("repaired").Inc()
		r.config.Logger.Infof("regenerated preview for %s", name)
	}

	return report, nil
}

func (r *Reconciler) repair(ctx context.Context, name string, format models.Format) error {
	f, err := r.config.Store.OpenOriginal(name)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}

	_, err = r.config.Previews.GeneratePreview(ctx, name, data, format)
	return err
}
