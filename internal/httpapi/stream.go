package httpapi

import (
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/taskmirror/taskmirror/internal/syncengine"
)

// handleSyncStatusStream pushes run snapshots over a websocket. Every
// snapshot change is forwarded; the connection closes normally once a
// terminal snapshot has been sent, so clients observing a run always see
// its final state before EOF.
func (s *Server) handleSyncStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	register := s.engine.Register()

	last := register.Get()
	if err := wsjson.Write(ctx, conn, last); err != nil {
		return
	}

	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
		}
		current := register.Get()
		if sameSnapshot(last, current) {
			if last.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, current); err != nil {
			return
		}
		last = current
		if current.Terminal() {
			conn.Close(websocket.StatusNormalClosure, "run finished")
			return
		}
	}
}

func sameSnapshot(a, b syncengine.Run) bool {
	return a.ID == b.ID &&
		a.Status == b.Status &&
		a.Processed == b.Processed &&
		a.Total == b.Total &&
		a.Error == b.Error
}
