package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskr/domain"
	"taskr/hub"
)

// Outbound events waiting for a connection's write pump.
const outboundBuffer = 256

func serveHub(h *hub.Hub, groups *Groups, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Cross-origin is already open via the CORS policy.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		subject, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		sock, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.Errorf("websocket upgrade failed: %v", err)
			return nil
		}
		sock.SetReadLimit(maxFrameSize)

		connectionID := uuid.NewString()
		conn := groups.Add(connectionID, outboundBuffer, func() { _ = sock.Close() })
		logger.WithFields(log.Fields{"connection": connectionID, "subject": subject}).Info("connection opened")

		go writePump(sock, conn, logger)

		ctx := c.Request().Context()
		for {
			_, data, err := sock.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warnf("connection %s read failed: %v", connectionID, err)
				}
				break
			}
			intent, err := decodeIntent(data)
			if err != nil {
				rejectFrame(conn, err)
				continue
			}
			// Intents for one connection run strictly one after another;
			// the hub fans the results out from there.
			h.Dispatch(ctx, connectionID, intent)
		}

		groups.Remove(connectionID)
		// The request context is gone once the socket breaks; teardown gets
		// its own.
		h.Disconnect(context.Background(), connectionID)
		logger.WithFields(log.Fields{"connection": connectionID}).Info("connection closed")
		return nil
	}
}

func writePump(sock *websocket.Conn, conn *Conn, logger *log.Logger) {
	defer conn.Close()
	for {
		select {
		case data := <-conn.Outbound():
			if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("connection %s write failed: %v", conn.ID, err)
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func rejectFrame(conn *Conn, err error) {
	ev := domain.NewHandleException(domain.ErrorEvent{Message: err.Error()})
	data, encErr := encodeEvent(ev)
	if encErr != nil {
		return
	}
	conn.enqueue(data)
}
