package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
	"github.com/ethpandaops/rttmon/pkg/api/storage"
	"github.com/ethpandaops/rttmon/pkg/report"
	"github.com/ethpandaops/rttmon/pkg/sink"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of reports indexed in parallel when
// no explicit concurrency value is configured.
const defaultConcurrency = 4

// Indexer is a background service that periodically scans stored reports
// and records the ones missing from the index store.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error

	// RunPass performs one synchronous indexing pass and returns the number
	// of reports indexed.
	RunPass(ctx context.Context) (int, error)
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	store       indexstore.Store
	reader      storage.Reader
	sink        sink.Sink
	interval    time.Duration
	concurrency int
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a new background indexer.
func NewIndexer(
	log logrus.FieldLogger,
	store indexstore.Store,
	reader storage.Reader,
	interval time.Duration,
	concurrency int,
) Indexer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &indexer{
		log:         log.WithField("component", "indexer"),
		store:       store,
		reader:      reader,
		sink:        sink.NewIndexSink(log, store, reader.Location),
		interval:    interval,
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate indexing
// pass and then ticks at the configured interval.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	idx.stopOnce.Do(func() {
		close(idx.done)
	})

	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()

	count, err := idx.RunPass(ctx)
	if err != nil {
		idx.log.WithError(err).Warn("Indexing pass failed")

		return
	}

	idx.log.WithFields(logrus.Fields{
		"indexed":  count,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Indexing pass completed")
}

// RunPass implements Indexer.
func (idx *indexer) RunPass(ctx context.Context) (int, error) {
	stored, err := idx.reader.ListReports(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing stored reports: %w", err)
	}

	indexedNames, err := idx.store.ListReportNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing indexed reports: %w", err)
	}

	indexedSet := make(map[string]struct{}, len(indexedNames))
	for _, name := range indexedNames {
		indexedSet[name] = struct{}{}
	}

	var tasks []string

	for _, name := range stored {
		if _, ok := indexedSet[name]; !ok {
			tasks = append(tasks, name)
		}
	}

	idx.log.WithFields(logrus.Fields{
		"stored_reports":  len(stored),
		"indexed_reports": len(indexedNames),
		"new_reports":     len(tasks),
	}).Debug("Scanning stored reports")

	if len(tasks) == 0 {
		return 0, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	var indexed atomic.Int64

	for _, name := range tasks {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-idx.done:
				return nil
			default:
			}

			if err := idx.indexReport(gCtx, name); err != nil {
				idx.log.WithError(err).
					WithField("report", name).
					Warn("Failed to index report")

				return nil //nolint:nilerr // log and continue
			}

			indexed.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(indexed.Load()), fmt.Errorf("indexing reports: %w", err)
	}

	return int(indexed.Load()), nil
}

// indexReport reads and decodes one stored report and records it.
func (idx *indexer) indexReport(ctx context.Context, name string) error {
	data, err := idx.reader.GetReport(ctx, name)
	if err != nil {
		return fmt.Errorf("reading report: %w", err)
	}

	if data == nil {
		return fmt.Errorf("report disappeared")
	}

	r, err := report.Decode(data)
	if err != nil {
		return err
	}

	if r.RunID == "" {
		return fmt.Errorf("report has no run_id")
	}

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	if err := idx.sink.Write(ctx, r, name); err != nil {
		return err
	}

	idx.log.WithFields(logrus.Fields{
		"report": name,
		"run_id": r.RunID,
	}).Info("Indexed report")

	return nil
}
