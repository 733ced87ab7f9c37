package conn

import (
	"context"
	"errors"
	"net/http"

	"github.com/SpatiumPortae/quickshare/internal/logger"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// maxClientMessage bounds what api clients may send; they only close the stream.
const maxClientMessage = 1 << 12

var ErrNoConn = errors.New("no websocket connection in context")

type connKey struct{}

func WithConn(ctx context.Context, conn Conn) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

func FromContext(ctx context.Context) (Conn, error) {
	conn, ok := ctx.Value(connKey{}).(Conn)
	if !ok {
		return nil, ErrNoConn
	}
	return conn, nil
}

// Middleware upgrades the request to a websocket and stores the connection in
// the request context. Upgrades from another origin are refused unless its
// host matches one of originPatterns.
func Middleware(originPatterns ...string) func(http.Handler) http.Handler {
	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger, err := logger.FromContext(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			wsConn, err := websocket.Accept(w, r, opts)
			if err != nil {
				// Accept has already written the response.
				logger.Warn("refused websocket upgrade",
					zap.String("origin", r.Header.Get("Origin")),
					zap.Error(err))
				return
			}
			wsConn.SetReadLimit(maxClientMessage)
			next.ServeHTTP(w, r.WithContext(WithConn(r.Context(), &WS{Conn: wsConn})))
		})
	}
}
