package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/observability"
)

const DefaultTimeout = 5 * time.Second

// Dialer opens printer connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	Printers []Printer
	Timeout  time.Duration
	Dialer   Dialer
	Logger   *slog.Logger
}

type printerState struct {
	printer      Printer
	state        State
	lastChecked  *time.Time
	successCount int
	errorCount   int
	lastError    string
}

// Queue owns the printers, their counters and the pending jobs. It is safe
// for concurrent use; Process drains sequentially.
type Queue struct {
	mu         sync.Mutex
	printers   map[string]*printerState
	order      []string
	jobs       []Job
	processing bool

	drainMu sync.Mutex
	timeout time.Duration
	dialer  Dialer
	logger  *slog.Logger
	now     func() time.Time
}

func NewQueue(cfg Config) (*Queue, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	q := &Queue{
		printers: make(map[string]*printerState, len(cfg.Printers)),
		timeout:  timeout,
		dialer:   dialer,
		logger:   logging.FromContext(context.Background(), cfg.Logger).With("component", "printer_queue"),
		now:      time.Now,
	}
	for _, p := range cfg.Printers {
		if _, exists := q.printers[p.ID]; exists {
			return nil, fmt.Errorf("duplicate printer id %q", p.ID)
		}
		q.printers[p.ID] = &printerState{printer: p, state: StateUnknown}
		q.order = append(q.order, p.ID)
	}
	return q, nil
}

// Enqueue adds a job for a specific printer. Disabled and unknown printers
// reject the job and it never enters the queue.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if len(job.Payload) == 0 {
		return Job{}, ErrEmptyPayload
	}

	q.mu.Lock()
	ps, ok := q.printers[job.PrinterID]
	if !ok {
		q.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrPrinterNotFound, job.PrinterID)
	}
	if !ps.printer.Enabled {
		q.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrPrinterDisabled, job.PrinterID)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.EnqueuedAt = q.now()
	job.Payload = append([]byte(nil), job.Payload...)
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	observability.MeterFromContext(ctx).Count(observability.MetricPrintJobQueued, 1, sentry.WithAttributes(
		attribute.String("printer_id", job.PrinterID),
	))
	logging.FromContext(ctx, q.logger).Info("print job queued",
		"job_id", job.ID, "printer_id", job.PrinterID, "order_number", job.OrderNumber, "layout", job.Layout)
	return job, nil
}

// PrinterFor returns the first enabled printer of the given type.
func (q *Queue) PrinterFor(kind Type) (Printer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		ps := q.printers[id]
		if ps.printer.Type == kind && ps.printer.Enabled {
			return ps.printer, nil
		}
	}
	return Printer{}, fmt.Errorf("%w: %s", ErrNoPrinterOfType, kind)
}

// Process drains the jobs queued at call time in FIFO order, one attempt
// each. Failed jobs are dropped after their attempt; reprinting re-renders
// from the order. Jobs enqueued during the drain wait for the next call.
func (q *Queue) Process(ctx context.Context) Report {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.processing = len(jobs) > 0
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	report := Report{Results: make([]Result, 0, len(jobs))}
	for i, job := range jobs {
		if ctx.Err() != nil || !q.roomForAttempt(ctx) {
			q.requeueFront(jobs[i:])
			report.Remaining = len(jobs) - i
			break
		}

		q.mu.Lock()
		ps, ok := q.printers[job.PrinterID]
		var target Printer
		if ok {
			target = ps.printer
		}
		q.mu.Unlock()
		if !ok || !target.Enabled {
			continue
		}

		result := q.deliver(ctx, target, job.Payload)
		result.JobID = job.ID
		result.OrderID = job.OrderID
		report.Processed++
		if result.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}
	return report
}

// roomForAttempt reports whether ctx leaves time for a full delivery attempt.
// A drain bounded by a request deadline stops early instead of cutting an
// attempt short and blaming the printer for the timeout.
func (q *Queue) roomForAttempt(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	return !ok || deadline.Sub(q.now()) >= q.timeout
}

// requeueFront puts undelivered jobs back ahead of anything enqueued since
// the drain began, keeping FIFO order.
func (q *Queue) requeueFront(jobs []Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(append([]Job(nil), jobs...), q.jobs...)
}

// Test sends a short test page straight to the printer. Disabled printers
// fail without a connection attempt.
func (q *Queue) Test(ctx context.Context, printerID string) (Result, error) {
	q.mu.Lock()
	ps, ok := q.printers[printerID]
	var target Printer
	if ok {
		target = ps.printer
	}
	q.mu.Unlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrPrinterNotFound, printerID)
	}
	if !target.Enabled {
		return Result{PrinterID: printerID, Success: false, State: q.stateOf(printerID), Error: ErrPrinterDisabled.Error()}, nil
	}
	return q.deliver(ctx, target, testPage(target, q.now())), nil
}

// Probe checks reachability of every enabled printer with a bare TCP
// connect. Counters are not touched.
func (q *Queue) Probe(ctx context.Context) Snapshot {
	for _, target := range q.enabledPrinters() {
		state, err := q.connect(ctx, target, nil)
		checked := q.now()

		q.mu.Lock()
		if ps, ok := q.printers[target.ID]; ok {
			ps.state = state
			ps.lastChecked = &checked
			if err != nil {
				ps.lastError = err.Error()
			}
		}
		q.mu.Unlock()
	}
	return q.Status()
}

func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := Snapshot{
		Printers:   make([]Status, 0, len(q.order)),
		QueueDepth: len(q.jobs),
		Processing: q.processing,
	}
	for _, id := range q.order {
		snapshot.Printers = append(snapshot.Printers, q.statusLocked(q.printers[id]))
	}
	return snapshot
}

// statusLocked copies a printer's counters along with the number of jobs
// waiting for it. q.mu must be held.
func (q *Queue) statusLocked(ps *printerState) Status {
	depth := 0
	for _, job := range q.jobs {
		if job.PrinterID == ps.printer.ID {
			depth++
		}
	}
	status := Status{
		Printer:      ps.printer,
		State:        ps.state,
		SuccessCount: ps.successCount,
		ErrorCount:   ps.errorCount,
		LastError:    ps.lastError,
		QueueDepth:   depth,
	}
	if ps.lastChecked != nil {
		checked := *ps.lastChecked
		status.LastChecked = &checked
	}
	return status
}

// Toggle enables or disables a printer. Disabling drops its queued jobs; the
// number dropped is returned.
func (q *Queue) Toggle(printerID string, enabled bool) (Status, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ps, ok := q.printers[printerID]
	if !ok {
		return Status{}, 0, fmt.Errorf("%w: %s", ErrPrinterNotFound, printerID)
	}
	ps.printer.Enabled = enabled

	dropped := 0
	if !enabled {
		kept := q.jobs[:0]
		for _, job := range q.jobs {
			if job.PrinterID == printerID {
				dropped++
				continue
			}
			kept = append(kept, job)
		}
		q.jobs = kept
	}

	q.logger.Info("printer toggled", "printer_id", printerID, "enabled", enabled, "dropped_jobs", dropped)
	return q.statusLocked(ps), dropped, nil
}

// Clear discards every queued job and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.jobs)
	q.jobs = nil
	return dropped
}

// Run drains the queue every interval until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if q.Status().QueueDepth == 0 {
				continue
			}
			report := q.Process(ctx)
			if report.Failed > 0 {
				q.logger.Warn("print drain finished with failures", "processed", report.Processed, "failed", report.Failed)
			}
		}
	}
}

// deliver writes payload to target and records the outcome on its counters.
func (q *Queue) deliver(ctx context.Context, target Printer, payload []byte) Result {
	start := q.now()
	state, err := q.connect(ctx, target, payload)
	checked := q.now()

	result := Result{
		PrinterID: target.ID,
		Success:   err == nil,
		State:     state,
		Duration:  checked.Sub(start).String(),
	}

	q.mu.Lock()
	if ps, ok := q.printers[target.ID]; ok {
		ps.state = state
		ps.lastChecked = &checked
		if err == nil {
			ps.successCount++
			ps.lastError = ""
		} else {
			ps.errorCount++
			ps.lastError = err.Error()
		}
	}
	q.mu.Unlock()

	meter := observability.MeterFromContext(ctx)
	if err != nil {
		result.Error = err.Error()
		meter.Count(observability.MetricPrintJobFailed, 1, sentry.WithAttributes(
			attribute.String("printer_id", target.ID),
			attribute.String("state", string(state)),
		))
		logging.FromContext(ctx, q.logger).Warn("print delivery failed",
			"printer_id", target.ID, "addr", target.Addr(), "state", state, "error", err)
		return result
	}

	meter.Count(observability.MetricPrintJobSent, 1, sentry.WithAttributes(
		attribute.String("printer_id", target.ID),
	))
	return result
}

// connect dials target within the queue timeout and, when payload is not
// nil, writes all of it before closing.
func (q *Queue) connect(ctx context.Context, target Printer, payload []byte) (State, error) {
	dialCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	conn, err := q.dialer.DialContext(dialCtx, "tcp", target.Addr())
	if err != nil {
		return classify(err), fmt.Errorf("connect %s: %w", target.Addr(), err)
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			_ = conn.Close()
			return classify(err), fmt.Errorf("write %s: %w", target.Addr(), err)
		}
	}
	if err := conn.Close(); err != nil {
		return classify(err), fmt.Errorf("close %s: %w", target.Addr(), err)
	}
	return StateOnline, nil
}

func classify(err error) State {
	if errors.Is(err, context.DeadlineExceeded) {
		return StateTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StateTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return StateOffline
	}
	return StateError
}

func (q *Queue) enabledPrinters() []Printer {
	q.mu.Lock()
	defer q.mu.Unlock()

	printers := make([]Printer, 0, len(q.order))
	for _, id := range q.order {
		if ps := q.printers[id]; ps.printer.Enabled {
			printers = append(printers, ps.printer)
		}
	}
	return printers
}

func (q *Queue) stateOf(printerID string) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ps, ok := q.printers[printerID]; ok {
		return ps.state
	}
	return StateUnknown
}

func testPage(target Printer, at time.Time) []byte {
	return invoice.ESCPOS([]invoice.Line{
		{Text: "TEST PRINT", Align: invoice.AlignCenter, Bold: true, Double: true},
		{Rule: true},
		{Text: "Printer: " + target.Name},
		{Text: "Type: " + string(target.Type)},
		{Text: "Address: " + target.Addr()},
		{Text: "Time: " + at.UTC().Format(time.RFC3339)},
		{Rule: true},
	})
}
