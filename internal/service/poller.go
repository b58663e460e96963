package service

import (
	"context"
	"sync"
	"time"

	"github.com/septivank/utility-sync-worker/internal/record"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxAccountPolls bounds concurrent per-account polls of one entry
const maxAccountPolls = 4

// Poller drives entry setup and poll cycles. On every tick it runs the
// (entry, kind, account) polls whose scan interval has elapsed.
type Poller struct {
	entries []*Entry
	tick    time.Duration
	logger  *zap.Logger
	now     func() time.Time

	running sync.Mutex

	mu      sync.Mutex
	ready   map[string]bool
	lastRun map[string]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller for the given entries
func NewPoller(entries []*Entry, tick time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		entries: entries,
		tick:    tick,
		logger:  logger,
		now:     time.Now,
		ready:   make(map[string]bool),
		lastRun: make(map[string]time.Time),
	}
}

// Start runs a first pass immediately and then one pass per tick
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()

		p.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels in-flight polls and waits for the loop to exit
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// RunOnce performs one pass. A pass still running from the previous tick
// causes this one to be skipped.
func (p *Poller) RunOnce(ctx context.Context) {
	if !p.running.TryLock() {
		p.logger.Debug("previous poll pass still running, skipping tick")
		return
	}
	defer p.running.Unlock()

	var wg sync.WaitGroup
	for _, entry := range p.entries {
		wg.Add(1)
		go func(entry *Entry) {
			defer wg.Done()
			p.pollEntry(ctx, entry)
		}(entry)
	}
	wg.Wait()
}

func (p *Poller) pollEntry(ctx context.Context, entry *Entry) {
	logger := p.logger.With(zap.String("entry_id", entry.ID()))

	if !p.isReady(entry) {
		if err := entry.Setup(ctx); err != nil {
			logger.Warn("entry setup failed, retrying next tick", zap.Error(err))
			return
		}
		p.markReady(entry)
		return
	}

	now := p.now()
	if p.due(entry, record.KindAccount, "", entry.AccountScanInterval(), now) {
		if err := entry.PollAccounts(ctx); err != nil {
			logger.Warn("account poll failed", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxAccountPolls)
	for _, code := range entry.AccountCodes() {
		code := code
		opts := entry.Options(code)
		pollMeters := p.due(entry, record.KindMeter, code, opts.ScanInterval.Meters, now)
		pollPayment := p.due(entry, record.KindLastPayment, code, opts.ScanInterval.LastPayment, now)
		if !pollMeters && !pollPayment {
			continue
		}

		// Per-account failures are logged, never returned, so one account
		// cannot cancel the others
		g.Go(func() error {
			if pollMeters {
				if err := entry.PollMeters(gctx, code); err != nil {
					logger.Warn("meter poll failed", zap.String("account_code", code), zap.Error(err))
				}
			}
			if pollPayment {
				if err := entry.PollLastPayments(gctx, code); err != nil {
					logger.Warn("last payment poll failed", zap.String("account_code", code), zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// due reports whether interval has elapsed since the last run and, if so,
// marks the run as started
func (p *Poller) due(entry *Entry, kind record.Kind, accountCode string, interval time.Duration, now time.Time) bool {
	key := entry.ID() + "/" + string(kind) + "/" + accountCode

	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastRun[key]
	if ok && now.Sub(last) < interval {
		return false
	}
	p.lastRun[key] = now
	return true
}

func (p *Poller) isReady(entry *Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready[entry.ID()]
}

// markReady records setup as the first run of every kind
func (p *Poller) markReady(entry *Entry) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready[entry.ID()] = true
	p.lastRun[entry.ID()+"/"+string(record.KindAccount)+"/"] = now
	for _, code := range entry.AccountCodes() {
		p.lastRun[entry.ID()+"/"+string(record.KindMeter)+"/"+code] = now
		p.lastRun[entry.ID()+"/"+string(record.KindLastPayment)+"/"+code] = now
	}
}
