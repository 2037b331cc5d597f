package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// instanceStatus tracks an Instance's lifecycle state.
type instanceStatus int32

const (
	statusIdle instanceStatus = iota
	statusFetching
	statusDead
)

// Instance is one long-lived Chromium process. Page fetches run in
// fresh tabs created from its browser context.
type Instance struct {
	id        int
	logger    *zap.Logger
	createdAt time.Time

	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	status       atomic.Int32
	fetchesDone  atomic.Int32
	lastUsedNano atomic.Int64
}

func newInstance(id int, cfg *Config, logger *zap.Logger) (*Instance, error) {
	now := time.Now().UTC()
	inst := &Instance{
		id:        id,
		logger:    logger,
		createdAt: now,
	}
	inst.lastUsedNano.Store(now.UnixNano())

	if err := inst.startBrowser(); err != nil {
		return nil, fmt.Errorf("start browser instance %d: %w", id, err)
	}

	logger.Info("Browser instance created", zap.Int("instance_id", id))
	return inst, nil
}

func (in *Instance) startBrowser() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("lang", "ja"),
	)

	in.allocatorCtx, in.allocatorCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	in.ctx, in.cancel = chromedp.NewContext(in.allocatorCtx)

	if err := chromedp.Run(in.ctx); err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}
	return nil
}

// IsAlive probes the browser over DevTools.
func (in *Instance) IsAlive() bool {
	if instanceStatus(in.status.Load()) == statusDead {
		return false
	}

	ctx, cancel := context.WithTimeout(in.ctx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
	return err == nil
}

// Age returns how long the instance has been running.
func (in *Instance) Age() time.Duration {
	return time.Now().UTC().Sub(in.createdAt)
}

// ShouldRestart reports whether a restart policy has tripped.
func (in *Instance) ShouldRestart(cfg *Config) bool {
	if int(in.fetchesDone.Load()) >= cfg.RestartAfterCount {
		return true
	}
	return in.Age() >= cfg.RestartAfterTime
}

// Restart terminates and relaunches the Chromium process.
func (in *Instance) Restart(cfg *Config) error {
	in.logger.Info("Restarting browser instance",
		zap.Int("instance_id", in.id),
		zap.Int32("fetches_done", in.fetchesDone.Load()),
		zap.Duration("age", in.Age()))

	if err := in.Terminate(); err != nil {
		in.logger.Warn("Error terminating instance during restart",
			zap.Int("instance_id", in.id),
			zap.Error(err))
	}

	now := time.Now().UTC()
	in.fetchesDone.Store(0)
	in.createdAt = now
	in.lastUsedNano.Store(now.UnixNano())
	in.status.Store(int32(statusIdle))

	if err := in.startBrowser(); err != nil {
		in.status.Store(int32(statusDead))
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}
	return nil
}

// Terminate shuts the Chromium process down.
func (in *Instance) Terminate() error {
	in.status.Store(int32(statusDead))
	if in.cancel != nil {
		in.cancel()
	}
	if in.allocatorCancel != nil {
		in.allocatorCancel()
	}
	return nil
}

func (in *Instance) noteFetch() {
	in.fetchesDone.Add(1)
	in.lastUsedNano.Store(time.Now().UTC().UnixNano())
}
