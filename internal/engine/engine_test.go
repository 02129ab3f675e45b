package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/db"
)

var base = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)

func newTestEngine(store Store, now *time.Time) *Engine {
	return New(store, alert.NewLocalizer("en"), zap.NewNop()).WithClock(func() time.Time { return *now })
}

func treatment(delta int) alert.Candidate {
	return alert.NewCandidate("owner-1", "t-1", nil, "", delta, alert.TreatmentExpiry{
		TreatmentID: "t-1",
		Name:        "Amoxicillin",
		Expiry:      base.AddDate(0, 0, delta),
	})
}

func TestUpsert_IdempotentForSameCandidate(t *testing.T) {
	store := db.NewMemoryStore()
	now := base
	e := newTestEngine(store, &now)
	ctx := context.Background()

	var first uuid.UUID
	for i := 0; i < 3; i++ {
		res, err := e.Upsert(ctx, treatment(5))
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if i == 0 {
			first = res.Notification.ID
			if !res.Created {
				t.Fatal("first upsert should create")
			}
			continue
		}
		if res.Created || res.ContentChanged {
			t.Errorf("upsert %d should be a no-op, got %+v", i, res)
		}
		if res.Notification.ID != first {
			t.Errorf("upsert %d returned a different record", i)
		}
		now = now.Add(time.Hour)
	}

	list, total, _ := store.ListNotifications(ctx, "owner-1", alert.ListFilter{Limit: 10})
	if total != 1 || len(list) != 1 {
		t.Fatalf("expected one notification, got %d", total)
	}
	if len(list[0].History) != 1 {
		t.Errorf("expected history length 1, got %d", len(list[0].History))
	}
}

func TestUpsert_HistoryGrowsWhenContentChanges(t *testing.T) {
	store := db.NewMemoryStore()
	now := base
	e := newTestEngine(store, &now)
	ctx := context.Background()

	var res Result
	var err error
	for _, delta := range []int{20, 15, 10} {
		res, err = e.Upsert(ctx, treatment(delta))
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		now = now.Add(24 * time.Hour)
	}
	if len(res.Notification.History) != 3 {
		t.Errorf("expected 3 history entries, got %d", len(res.Notification.History))
	}
	if res.StageChanged {
		t.Error("stage stayed month")
	}
}

func TestUpsert_StageChangeResetsRead(t *testing.T) {
	store := db.NewMemoryStore()
	now := base
	e := newTestEngine(store, &now)
	ctx := context.Background()

	res, err := e.Upsert(ctx, treatment(12))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Notification.Stage != alert.StageMonth {
		t.Fatalf("expected month, got %s", res.Notification.Stage)
	}
	id := res.Notification.ID

	if _, err := store.MarkRead(ctx, "owner-1", id, now); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := store.MarkDelivered(ctx, id, []alert.Channel{alert.ChannelApp}, now); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	// Same stage keeps the read flag.
	res, _ = e.Upsert(ctx, treatment(11))
	if !res.Notification.IsRead {
		t.Error("same-stage update must not reset read")
	}

	res, err = e.Upsert(ctx, treatment(6))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n := res.Notification
	if !res.StageChanged || n.Stage != alert.StageWeek {
		t.Fatalf("expected stage change to week, got %s", n.Stage)
	}
	if n.IsRead || n.ReadAt != nil {
		t.Error("stage change must clear read")
	}
	if n.IsDelivered || len(n.DeliveryChannels) != 0 {
		t.Error("stage change must clear delivery")
	}
	if n.ID != id {
		t.Error("stage change must update the same record")
	}
}

func TestUpsert_LinksDualPointSiblings(t *testing.T) {
	store := db.NewMemoryStore()
	now := base
	e := newTestEngine(store, &now)
	ctx := context.Background()

	due := base.AddDate(0, 0, 7)
	pre := due.AddDate(0, 0, -7)
	dose := alert.VaccineDose{VaccinationID: "v-1", VaccineName: "Clostridial", AnimalID: "A-1", Subtype: alert.SubtypeBooster, Due: due}

	r1, err := e.Upsert(ctx, alert.NewCandidate("owner-1", "v-1", &pre, alert.SubtypeBooster, 7, dose))
	if err != nil {
		t.Fatalf("upsert pre-reminder: %v", err)
	}
	now = now.AddDate(0, 0, 7)
	r2, err := e.Upsert(ctx, alert.NewCandidate("owner-1", "v-1", &due, alert.SubtypeBooster, 0, dose))
	if err != nil {
		t.Fatalf("upsert due: %v", err)
	}
	if r1.Notification.ID == r2.Notification.ID {
		t.Fatal("pre-reminder and due alert must be distinct")
	}

	if len(r2.Notification.RelatedNotifications) != 1 || r2.Notification.RelatedNotifications[0] != r1.Notification.ID {
		t.Errorf("due alert should link pre-reminder, got %v", r2.Notification.RelatedNotifications)
	}
	first, _ := store.GetNotification(ctx, "owner-1", r1.Notification.ID)
	if len(first.RelatedNotifications) != 1 || first.RelatedNotifications[0] != r2.Notification.ID {
		t.Errorf("pre-reminder should link due alert, got %v", first.RelatedNotifications)
	}
}

func TestUpsert_TreatmentHasNoSiblings(t *testing.T) {
	store := db.NewMemoryStore()
	now := base
	e := newTestEngine(store, &now)

	res, err := e.Upsert(context.Background(), treatment(3))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(res.Notification.RelatedNotifications) != 0 {
		t.Error("single-point types are never linked")
	}
	if res.Notification.Category != alert.CategoryMedical {
		t.Errorf("expected medical, got %s", res.Notification.Category)
	}
}

type failingStore struct{}

func (failingStore) UpsertNotification(context.Context, alert.Key, func(*alert.Notification) (*alert.Notification, error)) (*alert.Notification, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) LinkSiblings(context.Context, uuid.UUID) (*alert.Notification, error) {
	return nil, errors.New("unreachable")
}

func TestUpsert_PropagatesStoreErrors(t *testing.T) {
	now := base
	e := newTestEngine(failingStore{}, &now)
	if _, err := e.Upsert(context.Background(), treatment(3)); err == nil {
		t.Fatal("expected error")
	}
}
