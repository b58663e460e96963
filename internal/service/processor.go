package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/utility-sync-worker/internal/action"
	"github.com/septivank/utility-sync-worker/internal/host"
	"github.com/septivank/utility-sync-worker/internal/logging"
	"github.com/septivank/utility-sync-worker/tools/timeparser"
	"go.uber.org/zap"
)

// ActionMessage is an action request received from RabbitMQ
type ActionMessage struct {
	RequestID         string          `json:"request_id"`
	EntryID           string          `json:"entry_id"`
	Action            string          `json:"action"`
	RecordKey         string          `json:"record_key"`
	EntityID          string          `json:"entity_id"`
	Indications       json.RawMessage `json:"indications,omitempty"`
	Incremental       bool            `json:"incremental"`
	IgnoreIndications bool            `json:"ignore_indications"`
	Start             string          `json:"start,omitempty"`
	End               string          `json:"end,omitempty"`
}

// Processor routes action requests to their config entry
type Processor struct {
	entries  map[string]*Entry
	location *time.Location
	logger   *zap.Logger
}

// NewProcessor creates a processor; zone-less timestamps are read in loc
func NewProcessor(entries []*Entry, loc *time.Location, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	byID := make(map[string]*Entry, len(entries))
	for _, entry := range entries {
		byID[entry.ID()] = entry
	}
	return &Processor{entries: byID, location: loc, logger: logger}
}

// ProcessMessage decodes and runs one action request. Errors are returned
// after the action's outcome event has been published.
func (p *Processor) ProcessMessage(ctx context.Context, body []byte) error {
	var msg ActionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	_, err := p.Handle(ctx, msg)
	return err
}

// Handle runs a decoded action request
func (p *Processor) Handle(ctx context.Context, msg ActionMessage) (*action.Envelope, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	reqLogger := logging.WithRequestID(p.logger, msg.RequestID)
	reqLogger.Info("processing action request",
		zap.String("entry_id", msg.EntryID),
		zap.String("action", msg.Action),
		zap.String("record", msg.RecordKey),
	)

	entry, ok := p.entries[msg.EntryID]
	if !ok {
		return nil, fmt.Errorf("%w: entry %q", host.ErrNotFound, msg.EntryID)
	}

	inv, err := p.invocation(msg)
	if err != nil {
		reqLogger.Warn("invalid action request", zap.Error(err))
		return nil, err
	}

	env, err := entry.Invoke(ctx, inv)
	if err != nil {
		return env, fmt.Errorf("%s failed: %w", msg.Action, err)
	}

	reqLogger.Info("action request processed successfully")
	return env, nil
}

// Entry returns the config entry with the given ID
func (p *Processor) Entry(id string) (*Entry, bool) {
	entry, ok := p.entries[id]
	return entry, ok
}

func (p *Processor) invocation(msg ActionMessage) (Invocation, error) {
	inv := Invocation{
		RequestID:         msg.RequestID,
		Action:            action.Kind(msg.Action),
		RecordKey:         msg.RecordKey,
		EntityID:          msg.EntityID,
		Incremental:       msg.Incremental,
		IgnoreIndications: msg.IgnoreIndications,
	}

	if len(msg.Indications) > 0 && string(msg.Indications) != "null" {
		var indications any
		if err := json.Unmarshal(msg.Indications, &indications); err != nil {
			return inv, fmt.Errorf("failed to decode indications: %w", err)
		}
		inv.Indications = indications
	}

	var err error
	if inv.Start, err = p.parseTime(msg.Start); err != nil {
		return inv, fmt.Errorf("start: %w", err)
	}
	if inv.End, err = p.parseTime(msg.End); err != nil {
		return inv, fmt.Errorf("end: %w", err)
	}
	return inv, nil
}

func (p *Processor) parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := timeparser.ParseTimestamp(value, p.location)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
