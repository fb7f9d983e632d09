package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskr/domain"
)

// Push scopes carried on the backplane.
const (
	scopeConn  = "conn"
	scopeGroup = "group"
	scopeAll   = "all"
)

type pushEnvelope struct {
	Scope        string       `json:"Scope"`
	ConnectionID string       `json:"ConnectionID,omitempty"`
	Group        string       `json:"Group,omitempty"`
	Event        domain.Event `json:"Event"`
}

// Broker fans hub events out to connections. Every scope, caller included,
// takes a round trip through one Redis channel: publish order on that channel
// fixes the delivery order every subscriber observes, so an event for a
// single connection can never overtake an earlier group or all event bound
// for the same connection.
type Broker struct {
	groups  *Groups
	rc      *redis.Client
	channel string
	logger  *log.Logger
}

func NewBroker(groups *Groups, rc *redis.Client, channel string, logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broker{groups: groups, rc: rc, channel: channel, logger: logger}
}

// Caller publishes an event for a single connection. Undeliverable events
// are dropped silently by whichever instance owns the connection.
func (b *Broker) Caller(ctx context.Context, connectionID string, ev domain.Event) error {
	return b.publish(ctx, pushEnvelope{Scope: scopeConn, ConnectionID: connectionID, Event: ev})
}

// Group publishes an event for every member of the named group.
func (b *Broker) Group(ctx context.Context, group string, ev domain.Event) error {
	return b.publish(ctx, pushEnvelope{Scope: scopeGroup, Group: group, Event: ev})
}

// All publishes an event for every live connection.
func (b *Broker) All(ctx context.Context, ev domain.Event) error {
	return b.publish(ctx, pushEnvelope{Scope: scopeAll, Event: ev})
}

// Join subscribes a connection to a named group.
func (b *Broker) Join(connectionID, group string) error {
	return b.groups.Join(connectionID, group)
}

func (b *Broker) publish(ctx context.Context, env pushEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rc.Publish(ctx, b.channel, payload).Err()
}

// Run subscribes to the backplane channel and delivers published events to
// local connections until ctx is cancelled. The subscription is re-opened
// when the channel closes underneath it.
func (b *Broker) Run(ctx context.Context) {
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				b.dispatch(msg.Payload)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("backplane channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func (b *Broker) dispatch(payload string) {
	var env pushEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Errorf("unable to parse backplane message: %v", err)
		return
	}
	data, err := encodeEvent(env.Event)
	if err != nil {
		b.logger.Errorf("unable to encode backplane event: %v", err)
		return
	}
	switch env.Scope {
	case scopeConn:
		b.groups.SendToConn(env.ConnectionID, data)
	case scopeGroup:
		b.groups.SendToGroup(env.Group, data)
	case scopeAll:
		b.groups.SendToAll(data)
	default:
		b.logger.Warnf("ignoring backplane message with unknown scope %q", env.Scope)
	}
}
