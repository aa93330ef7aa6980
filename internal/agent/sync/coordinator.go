// Package sync drives snapshot refresh and queue flushing from a single
// goroutine so that device-side state transitions stay serialized.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/localstore"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/queue"
)

// ErrSyncInProgress is returned when a flush is requested while another flush
// for the same coordinator is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Queue is the slice of the queue manager the coordinator drives.
type Queue interface {
	ListForUser(ctx context.Context, userID string) ([]localstore.QueueItem, error)
	Attempt(ctx context.Context, key string) (queue.Outcome, error)
}

// Snapshots refreshes the local reference snapshot.
type Snapshots interface {
	Refresh(ctx context.Context) error
}

// Connectivity answers whether the device currently has a usable connection.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// FlushReport summarizes one flush pass over the queue.
type FlushReport struct {
	Attempted int
	Delivered int
	Blocked   int
	// Stopped is set when a transient failure ended the pass early; the
	// remaining items were not attempted.
	Stopped bool
	// StopErr carries the failure that ended the pass, if any.
	StopErr error
}

type command struct {
	kind   commandKind
	manual bool
	key    string
	reply  chan flushResult
}

type commandKind int

const (
	cmdConnectivityChanged commandKind = iota
	cmdFlushRequested
	cmdItemRetryRequested
	cmdSnapshotRefreshRequested
)

type flushResult struct {
	report FlushReport
	err    error
}

// Coordinator serializes snapshot refreshes and flush passes. Only one flush
// runs at a time; concurrent requests are rejected rather than queued so the
// operator always knows whether their trigger did anything.
type Coordinator struct {
	queue        Queue
	snapshots    Snapshots
	connectivity Connectivity
	logger       *slog.Logger
	userID       string

	pollInterval time.Duration
	commands     chan command

	mu      sync.Mutex
	syncing bool

	wasOnline bool
}

func NewCoordinator(q Queue, snapshots Snapshots, connectivity Connectivity, userID string, pollInterval time.Duration, logger *slog.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Coordinator{
		queue:        q,
		snapshots:    snapshots,
		connectivity: connectivity,
		logger:       logger,
		userID:       userID,
		pollInterval: pollInterval,
		commands:     make(chan command, 16),
	}
}

// Run processes commands and polls connectivity until ctx is canceled. A
// transition from offline to online triggers a snapshot refresh followed by
// an automatic flush.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.wasOnline = c.connectivity.Online(ctx)
	if c.wasOnline {
		c.onReconnected(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.checkConnectivity(ctx)
		case cmd := <-c.commands:
			c.handle(ctx, cmd)
		}
	}
}

func (c *Coordinator) checkConnectivity(ctx context.Context) {
	online := c.connectivity.Online(ctx)
	if online && !c.wasOnline {
		c.logger.InfoContext(ctx, "connectivity restored")
		c.onReconnected(ctx)
	}
	c.wasOnline = online
}

func (c *Coordinator) onReconnected(ctx context.Context) {
	if err := c.snapshots.Refresh(ctx); err != nil {
		c.logger.WarnContext(ctx, "snapshot refresh on reconnect failed", "error", err)
	}
	report, err := c.flush(ctx, false)
	if err != nil && !errors.Is(err, ErrSyncInProgress) {
		c.logger.WarnContext(ctx, "automatic flush failed", "error", err)
	}
	c.logFlush(ctx, report, false)
}

func (c *Coordinator) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdConnectivityChanged:
		c.checkConnectivity(ctx)
	case cmdSnapshotRefreshRequested:
		err := c.snapshots.Refresh(ctx)
		if cmd.reply != nil {
			cmd.reply <- flushResult{err: err}
		}
	case cmdFlushRequested:
		report, err := c.flush(ctx, cmd.manual)
		c.logFlush(ctx, report, cmd.manual)
		if cmd.reply != nil {
			cmd.reply <- flushResult{report: report, err: err}
		}
	case cmdItemRetryRequested:
		_, err := c.queue.Attempt(ctx, cmd.key)
		if cmd.reply != nil {
			cmd.reply <- flushResult{err: err}
		}
	}
}

// NotifyConnectivityChanged asks the coordinator to re-evaluate connectivity
// out of band, e.g. when the platform reports a network change.
func (c *Coordinator) NotifyConnectivityChanged() {
	select {
	case c.commands <- command{kind: cmdConnectivityChanged}:
	default:
	}
}

// RequestSnapshotRefresh refreshes the snapshot from the run loop and waits
// for the result.
func (c *Coordinator) RequestSnapshotRefresh(ctx context.Context) error {
	reply := make(chan flushResult, 1)
	select {
	case c.commands <- command{kind: cmdSnapshotRefreshRequested, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestFlush runs a flush pass from the run loop and waits for its report.
func (c *Coordinator) RequestFlush(ctx context.Context, manual bool) (FlushReport, error) {
	reply := make(chan flushResult, 1)
	select {
	case c.commands <- command{kind: cmdFlushRequested, manual: manual, reply: reply}:
	case <-ctx.Done():
		return FlushReport{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.report, res.err
	case <-ctx.Done():
		return FlushReport{}, ctx.Err()
	}
}

// RequestItemRetry retries a single queue item from the run loop.
func (c *Coordinator) RequestItemRetry(ctx context.Context, key string) error {
	reply := make(chan flushResult, 1)
	select {
	case c.commands <- command{kind: cmdItemRetryRequested, key: key, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush runs a flush pass directly. It is safe to call from any goroutine;
// the syncing flag rejects overlap with an in-progress pass.
func (c *Coordinator) Flush(ctx context.Context, manual bool) (FlushReport, error) {
	report, err := c.flush(ctx, manual)
	c.logFlush(ctx, report, manual)
	return report, err
}

func (c *Coordinator) flush(ctx context.Context, manual bool) (FlushReport, error) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return FlushReport{}, ErrSyncInProgress
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	var report FlushReport

	if !c.connectivity.Online(ctx) {
		report.Stopped = true
		report.StopErr = errors.New("device offline")
		return report, nil
	}

	items, err := c.queue.ListForUser(ctx, c.userID)
	if err != nil {
		return report, err
	}

	// Items are flushed strictly in creation order. Blocked items are
	// skipped: they wait for operator action, never an automatic retry.
	for _, item := range items {
		if item.Status == localstore.StatusBlocked {
			continue
		}

		report.Attempted++
		outcome, err := c.queue.Attempt(ctx, item.IdempotencyKey)
		switch outcome {
		case queue.OutcomeDelivered:
			report.Delivered++
		case queue.OutcomeBlocked:
			report.Blocked++
		case queue.OutcomeRetry:
			// A transient failure now will fail for the rest of the
			// pass too, so stop instead of hammering the server.
			report.Stopped = true
			report.StopErr = err
			return report, nil
		}
	}

	return report, nil
}

func (c *Coordinator) logFlush(ctx context.Context, report FlushReport, manual bool) {
	if report.Attempted == 0 && !report.Stopped {
		return
	}
	c.logger.InfoContext(ctx, "queue flush finished",
		"manual", manual,
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"blocked", report.Blocked,
		"stopped", report.Stopped,
	)
}
