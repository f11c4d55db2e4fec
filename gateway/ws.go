package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elis-salobehaj/log-ai/engine"
	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/search"
)

// Frame types on the search WebSocket. The client sends one request
// frame; the server answers with any number of match and progress
// frames and exactly one final frame (result or error).
const (
	frameMatch    = "match"
	frameProgress = "progress"
	frameResult   = "result"
	frameError    = "error"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = DefaultMaxRequestSize
)

type wsFrame struct {
	Type        string               `json:"type"`
	Match       *search.MatchRecord  `json:"match,omitempty"`
	Progress    *search.Progress     `json:"progress,omitempty"`
	Result      *engine.SearchResult `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	Suggestions []string             `json:"suggestions,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Same-origin policy is the deployment proxy's concern; the
	// gateway itself serves internal tooling.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn serializes frame writes; match and progress callbacks fire
// from executor goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeFrame(f wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(f)
}

// handleSearchWS upgrades the connection, reads one search request,
// and streams the search live. The connection closes after the final
// frame.
func (s *Server) handleSearchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	var req engine.SearchRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debug("websocket request decode failed", "error", err)
		return
	}

	ws := &wsConn{conn: conn}
	result, err := s.engine.SearchStream(r.Context(), req, engine.StreamCallbacks{
		OnMatch: func(rec search.MatchRecord) {
			if werr := ws.writeFrame(wsFrame{Type: frameMatch, Match: &rec}); werr != nil {
				s.logger.Debug("websocket match write failed", "error", werr)
			}
		},
		OnProgress: func(p search.Progress) {
			if werr := ws.writeFrame(wsFrame{Type: frameProgress, Progress: &p}); werr != nil {
				s.logger.Debug("websocket progress write failed", "error", werr)
			}
		},
	})
	if err != nil {
		ws.writeFrame(errorFrame(err))
		return
	}
	if werr := ws.writeFrame(wsFrame{Type: frameResult, Result: result}); werr != nil {
		s.logger.Debug("websocket result write failed", "error", werr)
	}
}

func errorFrame(err error) wsFrame {
	f := wsFrame{Type: frameError, Error: publicMessage(err)}
	if errors.IsSaturated(err) {
		f.Error = "search budget saturated, retry shortly"
	}
	var resErr *engine.ResolutionError
	if errors.As(err, &resErr) {
		f.Error = resErr.Error()
		f.Suggestions = resErr.Suggestions
	}
	return f
}
