package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/rttmon/pkg/api/indexer"
	"github.com/ethpandaops/rttmon/pkg/api/indexstore"
	"github.com/ethpandaops/rttmon/pkg/api/storage"
	"github.com/ethpandaops/rttmon/pkg/config"
	"github.com/ethpandaops/rttmon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	indexStore indexstore.Store
	indexer    indexer.Indexer
	reader     storage.Reader
	users      map[string]string
	limiters   *clientLimiters
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server over the run index and stored
// reports. gatherer backs the /metrics endpoint.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) Server {
	users := make(map[string]string, len(cfg.API.Auth.Users))
	for _, u := range cfg.API.Auth.Users {
		users[u.Username] = u.PasswordHash
	}

	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		metrics:  m,
		gatherer: gatherer,
		users:    users,
	}
}

// Start opens the index store, starts the background indexer and the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	s.indexStore = indexstore.NewStore(s.log, &s.cfg.Results.Index.Database)
	if err := s.indexStore.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	if s.cfg.Results.S3.Enabled {
		s.reader = storage.NewS3Reader(&s.cfg.Results.S3)

		s.log.WithField("bucket", s.cfg.Results.S3.Bucket).
			Info("Serving reports from S3")
	} else {
		s.reader = storage.NewLocalReader(s.cfg.Results.Dir)

		s.log.WithField("dir", s.cfg.Results.Dir).
			Info("Serving reports from local results directory")
	}

	s.indexer = indexer.NewIndexer(
		s.log, s.indexStore, s.reader, s.cfg.API.IndexInterval, 0,
	)

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// The indexer starts after the listener so the API is reachable while
	// the first pass runs.
	if err := s.indexer.Start(ctx); err != nil {
		return fmt.Errorf("starting indexer: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the index store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.limiters != nil {
		s.limiters.close()
	}

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.indexStore != nil {
		if err := s.indexStore.Stop(); err != nil {
			return fmt.Errorf("stopping index store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
