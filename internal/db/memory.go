package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/herdwatch/internal/alert"
	"github.com/lalithlochan/herdwatch/internal/digest"
	"github.com/lalithlochan/herdwatch/internal/preference"
)

type digestKey struct {
	owner      string
	year, week int
}

// MemoryStore is an in-process store with the same behaviour as Repository.
// It backs local development (STORE_DRIVER=memory) and tests.
type MemoryStore struct {
	mu            sync.Mutex
	now           func() time.Time
	notifications map[uuid.UUID]*alert.Notification
	byKey         map[string]uuid.UUID
	preferences   map[string]preference.Preference
	digests       map[uuid.UUID]*digest.Digest
	digestByKey   map[digestKey]uuid.UUID

	jobRuns map[string]time.Time

	treatments   []Treatment
	vaccines     []Vaccine
	weighings    []Weighing
	vaccinations []Vaccination
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		notifications: make(map[uuid.UUID]*alert.Notification),
		byKey:         make(map[string]uuid.UUID),
		preferences:   make(map[string]preference.Preference),
		digests:       make(map[uuid.UUID]*digest.Digest),
		digestByKey:   make(map[digestKey]uuid.UUID),
		jobRuns:       make(map[string]time.Time),
	}
}

// SetClock replaces the time source used for preference timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Health(context.Context) error { return nil }

// AddTreatment, AddVaccine, AddWeighing and AddVaccination seed the
// read-only source tables.
func (m *MemoryStore) AddTreatment(t Treatment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treatments = append(m.treatments, t)
}

func (m *MemoryStore) AddVaccine(v Vaccine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaccines = append(m.vaccines, v)
}

func (m *MemoryStore) AddWeighing(w Weighing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weighings = append(m.weighings, w)
}

func (m *MemoryStore) AddVaccination(v Vaccination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaccinations = append(m.vaccinations, v)
}

// Notifications

func (m *MemoryStore) UpsertNotification(
	_ context.Context,
	key alert.Key,
	merge func(existing *alert.Notification) (*alert.Notification, error),
) (*alert.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *alert.Notification
	if id, ok := m.byKey[key.String()]; ok {
		existing = m.notifications[id].Clone()
	}
	next, err := merge(existing)
	if err != nil {
		return nil, err
	}
	stored := next.Clone()
	m.notifications[stored.ID] = stored
	m.byKey[key.String()] = stored.ID
	return stored.Clone(), nil
}

func (m *MemoryStore) LinkSiblings(_ context.Context, id uuid.UUID) (*alert.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	var group []uuid.UUID
	for _, n := range m.notifications {
		if n.Owner == target.Owner && n.Type == target.Type && n.ItemID == target.ItemID {
			group = append(group, n.ID)
		}
	}
	sort.Slice(group, func(i, j int) bool { return group[i].String() < group[j].String() })
	for _, gid := range group {
		related := make([]uuid.UUID, 0, len(group)-1)
		for _, other := range group {
			if other != gid {
				related = append(related, other)
			}
		}
		m.notifications[gid].RelatedNotifications = related
	}
	return target.Clone(), nil
}

func (m *MemoryStore) GetNotification(_ context.Context, owner string, id uuid.UUID) (*alert.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Owner != owner {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

// sorted returns owner's notifications newest first.
func (m *MemoryStore) sorted(owner string) []*alert.Notification {
	var out []*alert.Notification
	for _, n := range m.notifications {
		if n.Owner == owner {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *MemoryStore) ListNotifications(_ context.Context, owner string, f alert.ListFilter) ([]*alert.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*alert.Notification
	for _, n := range m.sorted(owner) {
		if f.Matches(n) {
			matched = append(matched, n)
		}
	}
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	out := make([]*alert.Notification, 0, end-f.Offset)
	for _, n := range matched[f.Offset:end] {
		out = append(out, n.Clone())
	}
	return out, total, nil
}

func (m *MemoryStore) NotificationStats(_ context.Context, owner string) (*alert.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := alert.NewStats()
	for _, n := range m.notifications {
		if n.Owner == owner {
			stats.Add(n)
		}
	}
	return stats, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, owner string, id uuid.UUID, at time.Time) (*alert.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Owner != owner {
		return nil, ErrNotFound
	}
	n.IsRead = true
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	n.UpdatedAt = at
	return n.Clone(), nil
}

func (m *MemoryStore) MarkAllRead(_ context.Context, owner string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.Owner == owner && !n.IsRead {
			t := at
			n.IsRead, n.ReadAt, n.UpdatedAt = true, &t, at
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) DeleteNotification(_ context.Context, owner string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.Owner != owner {
		return ErrNotFound
	}
	m.remove(n)
	return nil
}

func (m *MemoryStore) remove(n *alert.Notification) {
	delete(m.notifications, n.ID)
	delete(m.byKey, n.Key().String())
}

func (m *MemoryStore) DeleteNotificationsBefore(_ context.Context, owner string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.UpdatedAt.Before(cutoff) && (owner == "" || n.Owner == owner) {
			m.remove(n)
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) TouchNotifications(_ context.Context, keys []alert.Key, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, k := range keys {
		id, ok := m.byKey[k.String()]
		if !ok {
			continue
		}
		if n := m.notifications[id]; at.After(n.UpdatedAt) {
			n.UpdatedAt = at
		}
		count++
	}
	return count, nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, id uuid.UUID, channels []alert.Channel, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	seen := make(map[alert.Channel]bool)
	var merged []alert.Channel
	for _, c := range append(append([]alert.Channel(nil), n.DeliveryChannels...), channels...) {
		if !seen[c] {
			seen[c] = true
			merged = append(merged, c)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	t := at
	n.IsDelivered, n.DeliveredAt, n.DeliveryChannels, n.UpdatedAt = true, &t, merged, at
	return nil
}

func (m *MemoryStore) NotificationsForDigest(_ context.Context, owner string, from, to time.Time, includeRead bool) ([]*alert.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alert.Notification
	for _, n := range m.sorted(owner) {
		if n.CreatedAt.Before(from) || n.CreatedAt.After(to) {
			continue
		}
		if n.IsRead && !includeRead {
			continue
		}
		out = append(out, n.Clone())
	}
	return out, nil
}

func (m *MemoryStore) ListOwners(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool)
	for _, n := range m.notifications {
		set[n.Owner] = true
	}
	for owner := range m.preferences {
		set[owner] = true
	}
	owners := make([]string, 0, len(set))
	for o := range set {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners, nil
}

// Preferences

func (m *MemoryStore) GetPreference(_ context.Context, owner string) (*preference.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.preferences[owner]
	if !ok {
		return nil, ErrNotFound
	}
	c := p.Clone()
	return &c, nil
}

func (m *MemoryStore) SavePreference(_ context.Context, p preference.Preference) (*preference.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	c := p.Clone()
	if prev, ok := m.preferences[p.Owner]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.preferences[p.Owner] = c
	out := c.Clone()
	return &out, nil
}

// Digests

func (m *MemoryStore) CreateDigest(_ context.Context, d *digest.Digest) (*digest.Digest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := digestKey{d.Owner, d.Period.Year, d.Period.Week}
	if id, ok := m.digestByKey[k]; ok {
		return m.digests[id].Clone(), false, nil
	}
	stored := d.Clone()
	stored.UpdatedAt = stored.CreatedAt
	m.digests[stored.ID] = stored
	m.digestByKey[k] = stored.ID
	for _, nid := range stored.Notifications {
		if n, ok := m.notifications[nid]; ok && n.Owner == d.Owner {
			id := stored.ID
			n.DigestID = &id
		}
	}
	return stored.Clone(), true, nil
}

func (m *MemoryStore) GetDigest(_ context.Context, owner string, year, week int) (*digest.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.digestByKey[digestKey{owner, year, week}]
	if !ok {
		return nil, ErrNotFound
	}
	return m.digests[id].Clone(), nil
}

func (m *MemoryStore) ListDueDigests(_ context.Context, now time.Time, maxAttempts int) ([]*digest.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*digest.Digest
	for _, d := range m.digests {
		switch d.Status {
		case digest.StatusPending, digest.StatusFailed:
		default:
			continue
		}
		if d.ScheduledFor.After(now) || d.DeliveryAttempts >= maxAttempts {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) UpdateDigestDelivery(_ context.Context, id uuid.UUID, u digest.DeliveryUpdate) (*digest.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.digests[id]
	if !ok {
		return nil, ErrNotFound
	}
	at := u.Attempted
	d.Status = u.Status
	d.DeliveryChannel = u.Channel
	d.DeliveryError = u.Error
	if u.CountAttempt {
		d.DeliveryAttempts++
	}
	d.LastDeliveryAttempt = &at
	if u.Status == digest.StatusSent {
		sent := at
		d.SentAt = &sent
	}
	d.UpdatedAt = at
	return d.Clone(), nil
}

func (m *MemoryStore) DeleteDigestsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, d := range m.digests {
		if d.CreatedAt.Before(cutoff) {
			delete(m.digests, id)
			delete(m.digestByKey, digestKey{d.Owner, d.Period.Year, d.Period.Week})
			count++
		}
	}
	return count, nil
}

// Job runs

func (m *MemoryStore) JobLastSuccess(_ context.Context, job string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobRuns[job], nil
}

func (m *MemoryStore) SaveJobSuccess(_ context.Context, job string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if startedAt.After(m.jobRuns[job]) {
		m.jobRuns[job] = startedAt
	}
	return nil
}

// Sources

func (m *MemoryStore) ExpiringTreatments(_ context.Context, until time.Time) ([]Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Treatment
	for _, t := range m.treatments {
		if !t.ExpiryDate.IsZero() && !t.ExpiryDate.After(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) ExpiringVaccines(_ context.Context, until time.Time) ([]Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Vaccine
	for _, v := range m.vaccines {
		if !v.ExpiryDate.IsZero() && !v.ExpiryDate.After(until) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) PlannedWeighings(_ context.Context, from, to time.Time) ([]Weighing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Weighing
	for _, w := range m.weighings {
		if !w.PlannedDate.Before(from) && !w.PlannedDate.After(to) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryStore) Vaccinations(context.Context) ([]Vaccination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Vaccination
	for _, v := range m.vaccinations {
		if v.BoosterIntervalDays != nil || v.AnnualIntervalMonths != nil {
			out = append(out, v)
		}
	}
	return out, nil
}
