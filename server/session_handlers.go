package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/storefront-auth/internal/utils"
	"github.com/jrsteele09/storefront-auth/oauth2"
	"github.com/jrsteele09/storefront-auth/session"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = (wsPongWait * 9) / 10
	wsMaxMessage   = 512
)

// SessionStatus is the client-facing relogin signal.
type SessionStatus struct {
	Authenticated   bool       `json:"authenticated"`
	ReloginRequired bool       `json:"relogin_required"`
	Notice          string     `json:"notice,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
}

// clientEvent is an inbound event stream message.
type clientEvent struct {
	Type string `json:"type"`
}

// sessionStatus reports clientID's session. A pending sign-out notice is
// consumed, so each notice is delivered once.
func (s *Server) sessionStatus(clientID string) SessionStatus {
	if clientID == "" {
		return SessionStatus{}
	}

	sess, ok := s.sessions.Get(clientID)
	if !ok {
		if notice, found := s.sessions.TakeNotice(clientID); found {
			return SessionStatus{ReloginRequired: true, Notice: string(notice)}
		}
		return SessionStatus{}
	}

	snap := sess.Snapshot()
	if snap.ReloginRequired {
		return SessionStatus{ReloginRequired: true, Notice: string(session.NoticeSessionExpired)}
	}
	status := SessionStatus{Authenticated: snap.State == session.StateActive || snap.State == session.StateRefreshing}
	if status.Authenticated {
		status.AccessExpiresAt = utils.Ptr(snap.AccessExpiresAt)
	}
	return status
}

// SessionStatusHandler answers GET /session/status. Polling it counts as the
// client regaining focus.
func (s *Server) SessionStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := ClientIDFrom(r.Context())
		s.clients.focus(clientID)

		status := s.sessionStatus(clientID)
		if clientID != "" && !status.Authenticated {
			s.ClearSessionCookie(w, r)
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// SessionEventsHandler upgrades GET /session/events to a websocket that
// pushes the relogin signal when the session is signed out. Inbound
// {"type":"focus"} messages trigger an immediate session check.
func (s *Server) SessionEventsHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWebSocketOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		clientID := ClientIDFrom(r.Context())
		if clientID == "" {
			writeError(w, http.StatusUnauthorized, oauth2.ErrorUnauthorized, "session cookie required")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("session_id", clientID).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		notices, unsubscribe, subscribed := s.clients.subscribe(clientID)
		defer unsubscribe()

		// Checked after subscribing so a sign-out in between is not missed.
		status := s.sessionStatus(clientID)
		if !subscribed || !status.Authenticated {
			if !status.ReloginRequired && status.Notice == "" {
				status = SessionStatus{ReloginRequired: true, Notice: string(session.NoticeLoginRequired)}
			}
			writeAndClose(conn, status)
			return
		}
		if err := writeWebSocketJSON(conn, status); err != nil {
			return
		}

		closed := make(chan struct{})
		go s.readClientEvents(conn, clientID, closed)

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case notice := <-notices:
				s.sessions.TakeNotice(clientID)
				writeAndClose(conn, SessionStatus{ReloginRequired: true, Notice: string(notice.Reason)})
				return
			case <-closed:
				return
			case <-s.ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) readClientEvents(conn *websocket.Conn, clientID string, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session_id", clientID).Msg("session events read error")
			}
			return
		}
		// Any inbound message counts as activity.
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var event clientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Debug().Err(err).Str("session_id", clientID).Msg("ignoring malformed client event")
			continue
		}
		if event.Type == "focus" {
			s.clients.focus(clientID)
		}
	}
}

// checkWebSocketOrigin accepts same-host pages and configured CORS origins.
func (s *Server) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	return s.config.GetAllowedOrigins().IsAllowedOrigin(origin)
}

func writeWebSocketJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func writeAndClose(conn *websocket.Conn, v any) {
	if err := writeWebSocketJSON(conn, v); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}
