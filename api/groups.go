package api

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

var errUnknownConnection = errors.New("unknown connection")

// Conn is the sending side of one live connection. Events are queued on a
// buffered channel drained by a single writer, which preserves per-connection
// delivery order.
type Conn struct {
	ID string

	out     chan []byte
	done    chan struct{}
	once    sync.Once
	closeFn func()
}

// Outbound is the queue the connection's write pump drains.
func (c *Conn) Outbound() <-chan []byte { return c.out }

// Done is closed when the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close shuts the connection down; safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.closeFn != nil {
			c.closeFn()
		}
	})
}

func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Groups tracks live connections and their named broadcast groups.
type Groups struct {
	logger *log.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn
	groups map[string]map[string]*Conn
}

func NewGroups(logger *log.Logger) *Groups {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Groups{
		logger: logger,
		conns:  make(map[string]*Conn),
		groups: make(map[string]map[string]*Conn),
	}
}

// Add registers a connection and returns its sending half. closeFn is invoked
// exactly once when the connection shuts down.
func (g *Groups) Add(id string, buffer int, closeFn func()) *Conn {
	if buffer <= 0 {
		buffer = 64
	}
	c := &Conn{
		ID:      id,
		out:     make(chan []byte, buffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
	g.mu.Lock()
	g.conns[id] = c
	g.mu.Unlock()
	return c
}

// Remove forgets a connection and takes it out of every group. The
// connection is shut down if it still was live.
func (g *Groups) Remove(id string) {
	g.mu.Lock()
	c, ok := g.conns[id]
	delete(g.conns, id)
	for name, members := range g.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(g.groups, name)
		}
	}
	g.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Join subscribes a connection to a named group. Joining twice is a no-op.
func (g *Groups) Join(id, group string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[id]
	if !ok {
		return errUnknownConnection
	}
	members := g.groups[group]
	if members == nil {
		members = make(map[string]*Conn)
		g.groups[group] = members
	}
	members[id] = c
	return nil
}

// SendToConn queues data for one connection. Sends to unknown connections
// are dropped silently; a connection whose queue stays full is closed rather
// than skipped, so an observer never sees a gap in its event stream.
func (g *Groups) SendToConn(id string, data []byte) {
	g.mu.RLock()
	c, ok := g.conns[id]
	g.mu.RUnlock()
	if !ok {
		return
	}
	g.deliver(c, data)
}

// SendToGroup queues data for every member of the named group.
func (g *Groups) SendToGroup(group string, data []byte) {
	g.mu.RLock()
	members := g.groups[group]
	targets := make([]*Conn, 0, len(members))
	for _, c := range members {
		targets = append(targets, c)
	}
	g.mu.RUnlock()
	for _, c := range targets {
		g.deliver(c, data)
	}
}

// SendToAll queues data for every live connection.
func (g *Groups) SendToAll(data []byte) {
	g.mu.RLock()
	targets := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		targets = append(targets, c)
	}
	g.mu.RUnlock()
	for _, c := range targets {
		g.deliver(c, data)
	}
}

func (g *Groups) deliver(c *Conn, data []byte) {
	if c.enqueue(data) {
		return
	}
	select {
	case <-c.done:
		// Already shut down; undeliverable sends are dropped.
	default:
		g.logger.Warnf("closing slow connection %s", c.ID)
		g.Remove(c.ID)
	}
}
