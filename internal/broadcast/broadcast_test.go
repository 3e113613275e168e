package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"credit-ledger-go/internal/models"
	"credit-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func sampleBalance(userId string, amount int64) models.BroadcastBalance {
	current := decimal.NewFromInt(amount)
	return models.BroadcastBalance{
		UserId:           userId,
		CurrentBalance:   current,
		AvailableBalance: current,
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestSetAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	path := store.BalancePath("user1")

	if err := s.Set(ctx, path, sampleBalance("user1", 50)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := s.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !value.CurrentBalance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected 50, got %s", value.CurrentBalance.String())
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore()
	_, err := s.Get(context.Background(), store.BalancePath("nobody"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSubscribe_NotifiesOnSet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	path := store.BalancePath("user1")

	var received []models.BroadcastBalance
	unsubscribe, err := s.Subscribe(path, func(b models.BroadcastBalance) {
		received = append(received, b)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsubscribe()

	s.Set(ctx, path, sampleBalance("user1", 10))
	s.Set(ctx, path, sampleBalance("user1", 20))
	s.Set(ctx, store.BalancePath("other"), sampleBalance("other", 99))

	if len(received) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(received))
	}
	if !received[1].CurrentBalance.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected last notification 20, got %s", received[1].CurrentBalance.String())
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	path := store.BalancePath("user1")

	notified := 0
	unsubscribe, err := s.Subscribe(path, func(models.BroadcastBalance) { notified++ })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	unsubscribe()
	unsubscribe() // second call must be a no-op

	if s.SubscriberCount(path) != 0 {
		t.Errorf("Expected 0 subscribers, got %d", s.SubscriberCount(path))
	}

	s.Set(ctx, path, sampleBalance("user1", 10))
	if notified != 0 {
		t.Errorf("Expected no notifications after unsubscribe, got %d", notified)
	}
}

func TestClose_RejectsOperations(t *testing.T) {
	s := NewStore()
	s.Close()

	if err := s.Set(context.Background(), "p", sampleBalance("u", 1)); !errors.Is(err, store.ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable after close, got %v", err)
	}
	if _, err := s.Subscribe("p", func(models.BroadcastBalance) {}); !errors.Is(err, store.ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable after close, got %v", err)
	}
}
