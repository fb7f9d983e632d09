package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"taskr/domain"
)

// HubClient maintains one websocket connection to the task hub, sends
// intents and feeds pushed events into a Reconciler.
type HubClient struct {
	conn   *websocket.Conn
	rec    *Reconciler
	logger *log.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// Dial connects to the hub endpoint and starts the read loop. The bearer
// token may be empty when the server runs without auth.
func Dial(ctx context.Context, url, token string, rec *Reconciler, logger *log.Logger) (*HubClient, error) {
	if rec == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &HubClient{
		conn:   conn,
		rec:    rec,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the read loop exits, normally or otherwise.
func (c *HubClient) Done() <-chan struct{} { return c.done }

// Err reports why the read loop stopped. Valid after Done is closed.
func (c *HubClient) Err() error { return c.readErr }

// Close tears the connection down. The server observes the disconnect and
// announces it to remaining users.
func (c *HubClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *HubClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = err
			}
			return
		}
		var ev domain.Event
		if err := sonic.ConfigStd.Unmarshal(data, &ev); err != nil {
			c.logger.Warnf("Discarding malformed event: %s", err)
			continue
		}
		if err := c.rec.Apply(ev); err != nil {
			c.logger.Warnf("Failed to apply event %s: %s", ev.Type, err)
		}
	}
}

// Login announces the reconciler's username to the hub. The hub responds
// with the user's task list and joins the connection to the user's group.
func (c *HubClient) Login(ctx context.Context) error {
	return c.send(ctx, domain.NewUsernameIntent(domain.IntentLogin, c.rec.Username()))
}

// GetTasksForUser requests a fresh full sync of the user's tasks.
func (c *HubClient) GetTasksForUser(ctx context.Context) error {
	return c.send(ctx, domain.NewUsernameIntent(domain.IntentGetTasksForUser, c.rec.Username()))
}

// AddTask submits a new task. The server assigns the TaskID.
func (c *HubClient) AddTask(ctx context.Context, t domain.Task) error {
	if t.TaskID != 0 {
		return domain.ErrTaskIDAssigned
	}
	return c.send(ctx, domain.NewTaskIntent(domain.IntentAddTask, t))
}

// UpdateTask submits changed fields for an existing task.
func (c *HubClient) UpdateTask(ctx context.Context, t domain.Task) error {
	if t.TaskID == 0 {
		return domain.ErrTaskIDRequired
	}
	return c.send(ctx, domain.NewTaskIntent(domain.IntentUpdateTask, t))
}

// DeleteTask asks the hub to soft delete a task.
func (c *HubClient) DeleteTask(ctx context.Context, t domain.Task) error {
	if t.TaskID == 0 {
		return domain.ErrTaskIDRequired
	}
	return c.send(ctx, domain.NewTaskIntent(domain.IntentDeleteTask, t))
}

func (c *HubClient) send(ctx context.Context, in domain.Intent) error {
	data, err := sonic.ConfigStd.Marshal(in)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
