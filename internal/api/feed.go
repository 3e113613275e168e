package api

import (
	"errors"
	"net/http"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Feed is same-origin in production; the reverse proxy enforces it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleBalanceFeed streams one user's balance updates over a websocket. The
// current balance is pushed immediately on connect, then every broadcast
// update follows.
func (s *CreditAPI) handleBalanceFeed(w http.ResponseWriter, r *http.Request) {
	userId := r.PathValue("userId")
	if userId == "" {
		writeError(w, &store.ValidationError{Field: "userId", Detail: "must not be empty"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	updates := make(chan models.BroadcastBalance, 16)
	unsubscribe, err := s.syncService.SubscribeToBalanceChanges(userId, func(b models.BroadcastBalance) {
		select {
		case updates <- b:
		default:
			// Slow consumer; drop the intermediate update. The next one
			// carries the full state anyway.
		}
	})
	if err != nil {
		conn.Close()
		return
	}

	// Initial snapshot so the client does not wait for the first change.
	if balance, err := s.creditService.GetBalance(r.Context(), userId); err == nil {
		updates <- models.BroadcastBalance{
			UserId:           balance.UserId,
			CurrentBalance:   balance.CurrentBalance,
			ReservedCredits:  balance.ReservedCredits,
			AvailableBalance: balance.AvailableBalance(),
			SyncVersion:      balance.SyncVersion,
			UpdatedAt:        balance.UpdatedAt,
		}
	}

	zap.L().Info("Balance feed connected", zap.String("user_id", userId))
	done := make(chan struct{})

	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) &&
					!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					zap.L().Debug("Balance feed read ended", zap.String("user_id", userId), zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
		zap.L().Info("Balance feed disconnected", zap.String("user_id", userId))
	}()

	for {
		select {
		case update := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(update); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
