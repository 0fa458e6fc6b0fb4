package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/digkill/SynergyHub/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTask(task))
}

func (s *Server) handleRefreshTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Refresh(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTask(task))
}

// handleWatchTask streams task snapshots over a websocket until the task is terminal
// or the client goes away.
func (s *Server) handleWatchTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	current, updates, err := s.tasks.Watch(ctx, userID(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "task_id", id, "err", err)
		return
	}
	defer conn.Close()

	// Client messages are ignored; reading surfaces the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(task *models.GenerationTask) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(toTask(task))
	}
	if err := send(current); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for !current.Status.Terminal() {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-updates:
			if !ok {
				return
			}
			current = task
			if err := send(task); err != nil {
				s.log.Debug("websocket write failed", "task_id", id, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(current.Status)),
		time.Now().Add(writeWait))
}
