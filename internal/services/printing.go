package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/orderdesk/orderdesk/internal/invoice"
	"github.com/orderdesk/orderdesk/internal/logging"
	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/internal/printer"
)

type printQueue interface {
	Enqueue(ctx context.Context, job printer.Job) (printer.Job, error)
	PrinterFor(kind printer.Type) (printer.Printer, error)
	Process(ctx context.Context) printer.Report
	Test(ctx context.Context, printerID string) (printer.Result, error)
	Probe(ctx context.Context) printer.Snapshot
	Status() printer.Snapshot
	Toggle(printerID string, enabled bool) (printer.Status, int, error)
	Clear() int
}

var _ printQueue = (*printer.Queue)(nil)

// PrintService renders orders into tickets and bills and feeds the printer
// queue.
type PrintService struct {
	queue  printQueue
	orders orderStore
	head   invoice.Letterhead
	logger *slog.Logger
}

func NewPrintService(queue printQueue, orders orderStore, head invoice.Letterhead, logger *slog.Logger) *PrintService {
	return &PrintService{queue: queue, orders: orders, head: head, logger: logger}
}

func (s *PrintService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// printTargets maps each layout to the printer type that prints it.
var printTargets = []struct {
	layout invoice.Layout
	kind   printer.Type
}{
	{layout: invoice.LayoutKitchen, kind: printer.TypeKitchen},
	{layout: invoice.LayoutBill, kind: printer.TypeBill},
}

// PrintOrder queues the kitchen ticket and the customer bill.
func (s *PrintService) PrintOrder(ctx context.Context, order *models.Order) ([]printer.Job, error) {
	return s.enqueue(ctx, order, "")
}

// EnqueueOrder queues one or both layouts for a stored order. target is
// "kitchen", "bill" or empty/"both".
func (s *PrintService) EnqueueOrder(ctx context.Context, orderID uuid.UUID, target string) ([]printer.Job, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "both" {
		target = ""
	}
	if target != "" {
		if _, err := invoice.ParseLayout(target); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.enqueue(ctx, order, invoice.Layout(target))
}

// Reprint regenerates the receipts from the stored order, so the bytes match
// the first print as long as the order is unchanged.
func (s *PrintService) Reprint(ctx context.Context, orderID uuid.UUID, target string) ([]printer.Job, error) {
	jobs, err := s.EnqueueOrder(ctx, orderID, target)
	if err != nil {
		return nil, err
	}
	s.loggerFromContext(ctx).Info("order reprint queued", "order_id", orderID, "jobs", len(jobs))
	return jobs, nil
}

func (s *PrintService) enqueue(ctx context.Context, order *models.Order, only invoice.Layout) ([]printer.Job, error) {
	var (
		jobs []printer.Job
		errs []error
	)
	for _, target := range printTargets {
		if only != "" && target.layout != only {
			continue
		}
		dest, err := s.queue.PrinterFor(target.kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines, err := invoice.Lines(order, target.layout, s.head)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		job, err := s.queue.Enqueue(ctx, printer.Job{
			PrinterID:   dest.ID,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Layout:      string(target.layout),
			Payload:     invoice.ESCPOS(lines),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		s.loggerFromContext(ctx).Warn("some receipts were not queued", "order_id", order.ID, "error", errors.Join(errs...))
	}
	return jobs, nil
}

// Render produces an invoice document for preview or download.
func (s *PrintService) Render(ctx context.Context, orderID uuid.UUID, layout, format string) (*invoice.Document, error) {
	parsedLayout, err := invoice.ParseLayout(layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	doc, err := invoice.Render(order, parsedLayout, invoice.Format(format), s.head)
	if errors.Is(err, invoice.ErrUnknownFormat) {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return doc, err
}

func (s *PrintService) Status(ctx context.Context, probe bool) printer.Snapshot {
	if probe {
		return s.queue.Probe(ctx)
	}
	return s.queue.Status()
}

func (s *PrintService) Process(ctx context.Context) printer.Report {
	return s.queue.Process(ctx)
}

func (s *PrintService) Test(ctx context.Context, printerID string) (printer.Result, error) {
	return s.queue.Test(ctx, printerID)
}

func (s *PrintService) Toggle(ctx context.Context, printerID string, enabled bool) (printer.Status, error) {
	status, dropped, err := s.queue.Toggle(printerID, enabled)
	if err != nil {
		return printer.Status{}, err
	}
	s.loggerFromContext(ctx).Info("printer toggled", "printer_id", printerID, "enabled", enabled, "dropped_jobs", dropped)
	return status, nil
}

func (s *PrintService) Clear(ctx context.Context) int {
	cleared := s.queue.Clear()
	s.loggerFromContext(ctx).Info("print queue cleared", "jobs", cleared)
	return cleared
}
