package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/quote-stream-service/internal/config"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/krobus00/quote-stream-service/internal/service/session"
	"github.com/sirupsen/logrus"
)

const (
	StocksPath = "/ws/stocks/"

	defaultWriteWait  = 5 * time.Second
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 50 * time.Second
	closeTimeout      = 5 * time.Second
	maxClientMessage  = 4096
)

type Authenticator interface {
	Authenticate(r *http.Request) (entity.User, error)
}

type Handler struct {
	sessions      *session.SessionService
	authenticator Authenticator
	upgrader      websocket.Upgrader
	cfg           config.StreamConfig
}

func NewStreamHTTPHandler(sessions *session.SessionService, authenticator Authenticator, cfg config.StreamConfig) *Handler {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}

	h := &Handler{
		sessions:      sessions,
		authenticator: authenticator,
		cfg:           cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(StocksPath, h.StreamStocks)
}

// StreamStocks upgrades an entitled client and forwards price updates for the
// tickers the user holds until the client goes away.
func (h *Handler) StreamStocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, authErr := h.authenticator.Authenticate(r)
	logger := logrus.WithFields(logrus.Fields{
		"remote_addr": r.RemoteAddr,
		"user_id":     user.ID,
	})

	sess, err := h.sessions.Admit(ctx, user)
	defer h.closeSession(sess)
	if err != nil {
		if authErr != nil {
			logger = logger.WithField("auth_error", authErr.Error())
		}
		logger.Infof("rejecting stream connection: %v", err)
		// no payload, the client only sees the refused handshake
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if err := h.sessions.Accept(sess); err != nil {
		logger.Errorf("failed to accept session: %v", err)
		return
	}

	// detach from the request context, which ends when the handler returns
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	if err := h.sessions.Subscribe(sessionCtx, sess); err != nil {
		logger.Errorf("failed to subscribe session: %v", err)
		h.writeClose(conn, websocket.CloseInternalServerErr)
		return
	}

	go h.readPump(conn, cancel)
	h.writePump(sessionCtx, conn, sess, logger)
}

// readPump only watches for disconnects and pongs; clients never send commands.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sess *session.Session, logger *logrus.Entry) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.writeClose(conn, websocket.CloseNormalClosure)
			return
		case update := <-sess.Updates():
			payload, err := json.Marshal(entity.ClientPriceFrame{Stock: update.Stock, Price: update.Price})
			if err != nil {
				logger.Warnf("failed to encode price frame: %v", err)
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("client write failed: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debugf("client ping failed: %v", err)
				return
			}
		}
	}
}

func (h *Handler) writeClose(conn *websocket.Conn, code int) {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logrus.Debugf("failed to write close frame: %v", err)
	}
}

func (h *Handler) closeSession(sess *session.Session) {
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	h.sessions.Close(ctx, sess)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range h.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, parsed.Host) {
			return true
		}
	}

	return false
}
