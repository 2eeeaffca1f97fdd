package api

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/angel122382/rpcdevtools/internal/logging"
	"github.com/angel122382/rpcdevtools/internal/store"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	streamBacklog      = 256
	streamWriteTimeout = 5 * time.Second
	maxStreamFrames    = 1 << 30
)

// streamFrame is one websocket text frame. The first frame of a session
// has kind "snapshot" and carries the full history; later frames carry a
// single change. Every frame includes the stats after the change.
type streamFrame struct {
	Seq      uint64                `json:"seq"`
	Kind     string                `json:"kind"`
	Record   *store.RequestRecord  `json:"record,omitempty"`
	Requests []store.RequestRecord `json:"requests,omitempty"`
	Stats    store.Stats           `json:"stats"`
}

// HandleStream upgrades to a websocket and pushes store changes in commit
// order. A client that falls more than streamBacklog changes behind is
// disconnected and is expected to reconnect for a fresh snapshot.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Core == nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logging.Warn("stream_upgrade_failed", logging.Fields{Component: "api", Addr: r.RemoteAddr, Error: err.Error()})
		return
	}
	logging.Info("stream_connected", logging.Fields{Component: "api", Addr: r.RemoteAddr})

	s := h.Core.Store
	changes := make(chan store.Change, streamBacklog)
	lagged := make(chan struct{})
	var lagOnce sync.Once
	cancel := s.Subscribe(func(c store.Change) {
		select {
		case changes <- c:
		default:
			lagOnce.Do(func() { close(lagged) })
		}
	})
	defer cancel()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	// Subscribe first so no change falls between the snapshot and the feed.
	if err := writeFrame(conn, streamFrame{Kind: "snapshot", Requests: s.Requests(), Stats: s.Stats()}); err != nil {
		logging.Debug("stream_write_failed", logging.Fields{Component: "api", Addr: r.RemoteAddr, Error: err.Error()})
		conn.Close()
		return
	}

	for i := 0; i < maxStreamFrames; i++ {
		select {
		case c := <-changes:
			frame := streamFrame{Seq: c.Seq, Kind: string(c.Kind), Record: c.Record, Stats: s.Stats()}
			if err := writeFrame(conn, frame); err != nil {
				logging.Debug("stream_write_failed", logging.Fields{Component: "api", Addr: r.RemoteAddr, Error: err.Error()})
				conn.Close()
				return
			}
		case <-lagged:
			logging.Warn("stream_client_lagging", logging.Fields{Component: "api", Addr: r.RemoteAddr})
			closeWithStatus(conn, ws.StatusPolicyViolation, "client too slow")
			return
		case <-closed:
			logging.Info("stream_disconnected", logging.Fields{Component: "api", Addr: r.RemoteAddr})
			conn.Close()
			return
		case <-r.Context().Done():
			closeWithStatus(conn, ws.StatusGoingAway, "server shutting down")
			return
		}
	}
}

func writeFrame(conn net.Conn, frame streamFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return wsutil.WriteServerText(conn, data)
}

// readUntilClosed drains client frames so control frames are answered, and
// closes done when the client goes away.
func readUntilClosed(conn net.Conn, done chan<- struct{}) {
	defer close(done)
	for i := 0; i < maxStreamFrames; i++ {
		if _, _, err := wsutil.ReadClientData(conn); err != nil {
			return
		}
	}
}

func closeWithStatus(conn net.Conn, code ws.StatusCode, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
	conn.Close()
}
