package service

import (
	"context"
	"time"

	"github.com/intervue/moodline/internal/logging"
)

// Detector is the lifecycle half of emotion.Detector.
type Detector interface {
	Start()
	Shutdown(ctx context.Context) error
}

// DetectorService owns the emotion worker for the life of the supervisor
// tree. The worker supervisor does its own respawning, so Serve only returns
// on shutdown.
type DetectorService struct {
	detector        Detector
	shutdownTimeout time.Duration
}

func NewDetectorService(d Detector, shutdownTimeout time.Duration) *DetectorService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &DetectorService{detector: d, shutdownTimeout: shutdownTimeout}
}

func (s *DetectorService) Serve(ctx context.Context) error {
	s.detector.Start()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.detector.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("emotion worker shutdown was not clean")
	}
	return ctx.Err()
}

func (s *DetectorService) String() string {
	return "emotion-detector"
}
