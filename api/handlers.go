package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskr/domain"
	"taskr/hub"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, h *hub.Hub, store hub.Store, groups *Groups, auth Authenticator, logger *log.Logger) {
	e.GET("/ws", serveHub(h, groups, auth, logger))
	e.GET("/api/tasks", getTasks(store, auth))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// getTasks serves a plain REST read of a user's active tasks for clients
// that only need a snapshot, without the push channel.
func getTasks(store hub.Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		username := strings.TrimSpace(c.QueryParam("username"))
		if username == "" {
			return c.String(http.StatusBadRequest, "username is required")
		}
		tasks, err := store.ActiveTasks(ctx, username)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}
