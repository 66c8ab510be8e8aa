// Package broker fans account change notifications out over NATS so that
// sessions in other processes can reconcile against writes to any store.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"YieldAccrual/internal/model"
	"YieldAccrual/internal/store"
)

// envelope is the wire form of a change notification.
type envelope struct {
	EventID string            `json:"event_id"`
	Source  string            `json:"source"`
	Event   model.ChangeEvent `json:"event"`
}

// Client publishes and subscribes to change subjects on core NATS.
type Client struct {
	servers string
	prefix  string
	name    string
	nc      *nats.Conn
}

// NewClient creates an unconnected client. Subjects are
// <prefix>.<account>.changed.
func NewClient(servers, prefix, name string) *Client {
	if prefix == "" {
		prefix = "accrual.account"
	}
	if name == "" {
		name = "yield-accrual"
	}
	return &Client{servers: servers, prefix: prefix, name: name}
}

// Connect establishes the NATS connection with reconnect handling.
func (c *Client) Connect() error {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(c.servers, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc
	log.WithField("servers", c.servers).Info("connected to NATS")
	return nil
}

// Subject returns the subject change events for accountID are published on.
func (c *Client) Subject(accountID string) string {
	return c.prefix + "." + accountID + ".changed"
}

// PublishChange publishes evt on the account's subject.
func (c *Client) PublishChange(_ context.Context, evt model.ChangeEvent) error {
	if c.nc == nil {
		return fmt.Errorf("not connected to NATS")
	}
	data, err := encode(c.name, evt)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.Subject(evt.AccountID), data); err != nil {
		return fmt.Errorf("publish change for %s: %w", evt.AccountID, err)
	}
	return nil
}

// Subscribe implements store.ChangeFeed. Messages that arrive while the
// channel is full are dropped; the next one carries the latest principal.
func (c *Client) Subscribe(ctx context.Context, accountID string) (<-chan model.ChangeEvent, error) {
	if accountID == "" {
		return nil, store.ErrInvalidInput
	}
	if c.nc == nil {
		return nil, fmt.Errorf("not connected to NATS")
	}

	ch := make(chan model.ChangeEvent, 16)
	var (
		mu     sync.Mutex
		closed bool
	)
	entry := log.WithFields(log.Fields{"account": accountID, "feed": "nats"})

	sub, err := c.nc.Subscribe(c.Subject(accountID), func(msg *nats.Msg) {
		evt, err := decode(msg.Data)
		if err != nil {
			entry.WithError(err).Warn("malformed change message")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- evt:
		default:
			entry.Warn("change subscriber is full, dropping message")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", c.Subject(accountID), err)
	}
	entry.WithField("subject", sub.Subject).Info("subscribed to NATS subject")

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			entry.WithError(err).Warn("unsubscribe failed")
		}
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("drain NATS: %w", err)
	}
	log.Info("NATS connection closed")
	return nil
}

func encode(source string, evt model.ChangeEvent) ([]byte, error) {
	data, err := json.Marshal(envelope{EventID: uuid.NewString(), Source: source, Event: evt})
	if err != nil {
		return nil, fmt.Errorf("marshal change envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (model.ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("unmarshal change envelope: %w", err)
	}
	if env.Event.AccountID == "" {
		return model.ChangeEvent{}, fmt.Errorf("change envelope %s has no account", env.EventID)
	}
	return env.Event, nil
}
