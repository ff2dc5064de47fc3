package push

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/gateway"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebSocketSource dials a provider endpoint and reads one JSON push event
// per text message.
type WebSocketSource struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *zap.Logger
}

var _ gateway.Source = (*WebSocketSource)(nil)

// NewWebSocketSource reads push events from the websocket at url. A nil log
// discards diagnostics.
func NewWebSocketSource(url string, header http.Header, log *zap.Logger) *WebSocketSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocketSource{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: writeWait},
		log:    log.Named("push.websocket"),
	}
}

type wsSubscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

func (s *WebSocketSource) Subscribe(fn func(gateway.PushEvent)) (gateway.Subscription, error) {
	conn, _, err := s.dialer.Dial(s.url, s.header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{conn: conn, cancel: cancel}

	sub.wg.Add(2)
	go s.readPump(ctx, sub, fn)
	go s.pingPump(ctx, sub)
	return sub, nil
}

func (s *WebSocketSource) readPump(ctx context.Context, sub *wsSubscription, fn func(gateway.PushEvent)) {
	defer sub.wg.Done()
	conn := sub.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("push stream closed", zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		ev, err := gateway.DecodePushEvent(data)
		if err != nil {
			s.log.Warn("dropping undecodable push event", zap.Error(err))
			continue
		}
		fn(ev)
	}
}

func (s *WebSocketSource) pingPump(ctx context.Context, sub *wsSubscription) {
	defer sub.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.err = s.conn.Close()
		s.wg.Wait()
	})
	return s.err
}
