// Package commands dispatches actuation commands to trackers and keeps the
// per-device outcome.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/events"
	"github.com/ukydev/fleet-tracking/internal/models"
)

var (
	ErrCommandInFlight = errors.New("a command is already being sent to this device")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingIMEI     = errors.New("device IMEI is required")
)

const sideEffectTimeout = 5 * time.Second

// Sender is the provider call a dispatcher wraps.
type Sender interface {
	SendCommand(ctx context.Context, imei string, command models.Command) error
}

// AuditLog records dispatched commands.
type AuditLog interface {
	InsertCommand(ctx context.Context, record models.CommandRecord) error
}

// State is the last known command outcome of a device.
type State struct {
	IMEI      string               `json:"imei"`
	Command   models.Command       `json:"command,omitempty"`
	Status    models.CommandStatus `json:"status"`
	Error     string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Sending reports whether a command is in flight.
func (s State) Sending() bool { return s.Status == models.CommandSending }

// Dispatcher sends at most one command per device at a time.
type Dispatcher struct {
	sender    Sender
	audit     AuditLog
	publisher events.Publisher
	log       *logrus.Entry
	now       func() time.Time

	mu     sync.Mutex
	states map[string]State
}

// NewDispatcher creates a dispatcher. audit and publisher may be nil.
func NewDispatcher(sender Sender, audit AuditLog, publisher events.Publisher, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Dispatcher{
		sender:    sender,
		audit:     audit,
		publisher: publisher,
		log:       logger.WithField("component", "commands"),
		now:       time.Now,
		states:    make(map[string]State),
	}
}

// State returns the command state of imei, idle if nothing was sent yet.
func (d *Dispatcher) State(imei string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[imei]; ok {
		return st
	}
	return State{IMEI: imei, Status: models.CommandIdle}
}

// Send dispatches command and reports success. On failure the message is
// available from State.
func (d *Dispatcher) Send(ctx context.Context, imei string, command models.Command, issuedBy string) bool {
	return d.Dispatch(ctx, imei, command, issuedBy) == nil
}

// Dispatch is Send with the failure returned. It returns ErrCommandInFlight
// or ErrUnknownCommand without contacting the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, imei string, command models.Command, issuedBy string) error {
	if imei == "" {
		return ErrMissingIMEI
	}

	issuedAt := d.now()

	d.mu.Lock()
	st := d.states[imei]
	if st.Status == models.CommandSending {
		st.Error = ErrCommandInFlight.Error()
		d.states[imei] = st
		d.mu.Unlock()
		d.log.WithFields(logrus.Fields{"imei": imei, "command": command}).Warn("Command rejected, another is in flight")
		return ErrCommandInFlight
	}
	if !models.IsValidCommand(command) {
		err := fmt.Errorf("%w: %q", ErrUnknownCommand, command)
		d.states[imei] = State{IMEI: imei, Command: command, Status: models.CommandFailed, Error: err.Error(), UpdatedAt: issuedAt}
		d.mu.Unlock()
		d.record(ctx, imei, command, issuedBy, issuedAt, err)
		return err
	}
	d.states[imei] = State{IMEI: imei, Command: command, Status: models.CommandSending, UpdatedAt: issuedAt}
	d.mu.Unlock()

	err := d.sender.SendCommand(ctx, imei, command)

	final := State{IMEI: imei, Command: command, Status: models.CommandSucceeded, UpdatedAt: d.now()}
	if err != nil {
		final.Status = models.CommandFailed
		final.Error = err.Error()
	}
	d.mu.Lock()
	d.states[imei] = final
	d.mu.Unlock()

	entry := d.log.WithFields(logrus.Fields{"imei": imei, "command": command, "issued_by": issuedBy})
	if err != nil {
		entry.WithError(err).Error("Command failed")
	} else {
		entry.Info("Command sent")
	}

	d.record(ctx, imei, command, issuedBy, issuedAt, err)
	return err
}

// record writes the audit entry and publishes the outcome. Failures are
// logged only.
func (d *Dispatcher) record(ctx context.Context, imei string, command models.Command, issuedBy string, issuedAt time.Time, sendErr error) {
	rec := models.CommandRecord{
		ID:          uuid.New().String(),
		IMEI:        imei,
		Command:     command,
		Status:      models.CommandSucceeded,
		IssuedBy:    issuedBy,
		IssuedAt:    issuedAt,
		CompletedAt: d.now(),
	}
	if sendErr != nil {
		rec.Status = models.CommandFailed
		rec.Error = sendErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if d.audit != nil {
		if err := d.audit.InsertCommand(ctx, rec); err != nil {
			d.log.WithError(err).WithField("record_id", rec.ID).Error("Failed to write command audit record")
		}
	}
	if err := events.PublishJSON(ctx, d.publisher, events.CommandSubject(imei), rec); err != nil {
		d.log.WithError(err).WithField("record_id", rec.ID).Warn("Failed to publish command event")
	}
}

func (d *Dispatcher) EngineOff(ctx context.Context, imei, issuedBy string) bool {
	return d.Send(ctx, imei, models.CommandEngineOff, issuedBy)
}

func (d *Dispatcher) EngineOn(ctx context.Context, imei, issuedBy string) bool {
	return d.Send(ctx, imei, models.CommandEngineOn, issuedBy)
}

func (d *Dispatcher) Lock(ctx context.Context, imei, issuedBy string) bool {
	return d.Send(ctx, imei, models.CommandLock, issuedBy)
}

func (d *Dispatcher) Unlock(ctx context.Context, imei, issuedBy string) bool {
	return d.Send(ctx, imei, models.CommandUnlock, issuedBy)
}

func (d *Dispatcher) Locate(ctx context.Context, imei, issuedBy string) bool {
	return d.Send(ctx, imei, models.CommandLocate, issuedBy)
}
