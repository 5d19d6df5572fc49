package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"studiorelay/internal/hub"
	"studiorelay/pkg/logx"
)

// Overlay pages are served from OBS browser sources and local files, so
// cross-origin upgrades are expected.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}

	c := hub.NewClient(s.Hub, conn, s.Log)
	ctx := r.Context()

	// Attach runs on the relay loop: the init snapshot is queued and the
	// connection registered before any later broadcast can be observed.
	if err := s.Relay.Attach(ctx, c); err != nil {
		s.Log.Warn("attach failed", logx.String("client", c.ID()), logx.Err(err))
		_ = conn.Close()
		return
	}
	s.Log.Info("client connected", logx.String("client", c.ID()), logx.Int("clients", s.Hub.Len()))

	c.Run(ctx, func(frame []byte) {
		s.Relay.SubmitFrame(ctx, c, frame)
	})

	s.Log.Info("client disconnected", logx.String("client", c.ID()), logx.Int("clients", s.Hub.Len()))
}
