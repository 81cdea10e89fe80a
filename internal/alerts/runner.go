package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const scanTimeout = 10 * time.Minute

// Scanner runs one alert scan.
type Scanner interface {
	Scan(ctx context.Context) (ScanReport, error)
}

// Runner fires Scan on a cron schedule.
type Runner struct {
	cron    *cron.Cron
	scanner Scanner
	logger  *zap.Logger
	timeout time.Duration
}

// NewRunner parses spec (standard five-field cron or a descriptor such as
// "@every 1h") in loc and registers the scan.
func NewRunner(scanner Scanner, spec string, loc *time.Location, logger *zap.Logger) (*Runner, error) {
	if loc == nil {
		loc = time.Local
	}

	r := &Runner{
		scanner: scanner,
		logger:  logger,
		timeout: scanTimeout,
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
	)

	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("invalid alert schedule %q: %w", spec, err)
	}
	return r, nil
}

// Start begins firing scans in the background.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("alert scheduler started")
}

// Stop prevents new scans and waits for a running one, up to ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("alert scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.scanner.Scan(ctx); err != nil {
		if errors.Is(err, ErrScanInProgress) {
			r.logger.Info("skipping scheduled alert scan, another scan is running")
			return
		}
		r.logger.Error("scheduled alert scan failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
