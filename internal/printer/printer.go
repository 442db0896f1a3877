// Package printer delivers rendered receipts to ESC/POS network printers over
// raw TCP. Jobs wait in an in-process FIFO queue until Process drains it.
package printer

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeKitchen Type = "kitchen"
	TypeBill    Type = "bill"
)

type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
	StateError   State = "error"
	StateTimeout State = "timeout"
)

var (
	ErrPrinterNotFound = errors.New("printer not found")
	ErrPrinterDisabled = errors.New("printer is disabled")
	ErrNoPrinterOfType = errors.New("no enabled printer of this type")
	ErrEmptyPayload    = errors.New("print payload is empty")
)

type Printer struct {
	ID      string `json:"id" yaml:"id" validate:"required"`
	Name    string `json:"name" yaml:"name"`
	Type    Type   `json:"type" yaml:"type" validate:"required,oneof=kitchen bill"`
	IP      string `json:"ip" yaml:"ip" validate:"required,ip|hostname"`
	Port    int    `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

func (p Printer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// Status is a printer with its delivery counters.
type Status struct {
	Printer
	State        State      `json:"state"`
	LastChecked  *time.Time `json:"last_checked,omitempty"`
	SuccessCount int        `json:"success_count"`
	ErrorCount   int        `json:"error_count"`
	LastError    string     `json:"last_error,omitempty"`
	QueueDepth   int        `json:"queue_depth"`
}

// Snapshot is the queue state reported to admins.
type Snapshot struct {
	Printers   []Status `json:"printers"`
	QueueDepth int      `json:"queue_depth"`
	Processing bool     `json:"processing"`
}

type Job struct {
	ID          uuid.UUID `json:"id"`
	PrinterID   string    `json:"printer_id"`
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Layout      string    `json:"layout"`
	Payload     []byte    `json:"-"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Result is the outcome of one delivery attempt.
type Result struct {
	JobID     uuid.UUID `json:"job_id,omitempty"`
	PrinterID string    `json:"printer_id"`
	OrderID   uuid.UUID `json:"order_id,omitempty"`
	Success   bool      `json:"success"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration,omitempty"`
}

// Report summarises one drain of the queue.
type Report struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Remaining int      `json:"remaining"`
	Results   []Result `json:"results"`
}
