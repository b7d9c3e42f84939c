// Package events publishes committed study, item and action changes to NATS
// on subjects of the form <prefix>.<entity>.<action>.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"fmeacore/internal/core"
	"fmeacore/pkg/domain"
)

// DefaultPrefix is the subject root for change events.
const DefaultPrefix = "fmea"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Event is the JSON body of a change message.
type Event struct {
	Entity     domain.EntityType    `json:"entity"`
	Action     domain.ChangeAction  `json:"action"`
	EntityID   string               `json:"entity_id"`
	StudyID    string               `json:"study_id"`
	Before     domain.ChangePayload `json:"before"`
	After      domain.ChangePayload `json:"after"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Publisher implements core.ChangePublisher over a NATS connection.
type Publisher struct {
	conn   Conn
	prefix string
	now    func() time.Time
}

// NewPublisher returns a publisher. An empty prefix uses DefaultPrefix.
func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Subject returns the subject a change is published on.
func (p *Publisher) Subject(c domain.Change) string {
	return p.prefix + "." + string(c.Entity) + "." + string(c.Action)
}

// Publish sends one message per change, in commit order, then flushes so
// delivery failures surface to the caller.
func (p *Publisher) Publish(ctx context.Context, changes []core.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish changes: %w", err)
	}
	occurred := p.now()
	for _, c := range changes {
		data, err := json.Marshal(Event{
			Entity:     c.Entity,
			Action:     c.Action,
			EntityID:   c.EntityID,
			StudyID:    c.StudyID,
			Before:     c.Before,
			After:      c.After,
			OccurredAt: occurred,
		})
		if err != nil {
			return fmt.Errorf("encode %s change: %w", c.Entity, err)
		}
		msg := nats.NewMsg(p.Subject(c))
		msg.Data = data
		msg.Header.Set("Fmea-Study-Id", c.StudyID)
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", msg.Subject, err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush change events: %w", err)
	}
	return nil
}

// Connect dials NATS with reconnect settings suitable for a long running server.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

var _ core.ChangePublisher = (*Publisher)(nil)
