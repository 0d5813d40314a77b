package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// routeImporter and metroRefresher are satisfied by RecorridoService and
// MetroService
type routeImporter interface {
	ImportAll(ctx context.Context) (ImportReport, error)
}

type metroRefresher interface {
	Refresh(ctx context.Context) ([]StationState, error)
}

// PeriodicRefreshService re-imports every bus route and refreshes metro
// station state on a fixed interval
type PeriodicRefreshService struct {
	recorridos routeImporter
	metro      metroRefresher
	interval   time.Duration
	timeout    time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewPeriodicRefreshService creates a new periodic refresh service
func NewPeriodicRefreshService(recorridos routeImporter, metro metroRefresher, interval time.Duration) *PeriodicRefreshService {
	return &PeriodicRefreshService{
		recorridos: recorridos,
		metro:      metro,
		interval:   interval,
		timeout:    30 * time.Minute,
	}
}

// StartPeriodicRefresh runs a refresh immediately and then on every tick until
// ctx is cancelled or Stop is called
func (p *PeriodicRefreshService) StartPeriodicRefresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil // Already running
	}
	p.running = true
	p.stopChan = make(chan struct{})
	ctx = logging.EnsureLogger(ctx)

	logging.Infow(ctx, "Starting periodic refresh", "interval", p.interval.String())

	go p.refreshLoop(ctx, p.stopChan)
	return nil
}

// Stop gracefully stops the periodic refresh
func (p *PeriodicRefreshService) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	close(p.stopChan)
}

// IsRunning returns whether periodic refresh is active
func (p *PeriodicRefreshService) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicRefreshService) refreshLoop(ctx context.Context, stop <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Periodic refresh: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Periodic refresh stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Periodic refresh stopping due to stop signal")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *PeriodicRefreshService) refresh(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report, err := p.recorridos.ImportAll(refreshCtx)
	if err != nil {
		logging.Errorw(ctx, "Periodic refresh: route import failed", "error", err)
	} else {
		logging.Infow(ctx, "Periodic refresh: routes imported", "imported", report.Imported, "failed", report.Failed, "partial", report.Partial)
	}

	stations, err := p.metro.Refresh(refreshCtx)
	if err != nil {
		logging.Errorw(ctx, "Periodic refresh: metro refresh failed", "error", err)
	} else {
		logging.Infow(ctx, "Periodic refresh: metro stations updated", "stations", len(stations))
	}
}
