package alert

import (
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		delta    int
		stage    Stage
		severity Severity
	}{
		{30, StageMonth, SeverityMedium},
		{8, StageMonth, SeverityMedium},
		{7, StageWeek, SeverityHigh},
		{5, StageWeek, SeverityHigh},
		{1, StageWeek, SeverityHigh},
		{0, StageExpired, SeverityHigh},
		{-2, StageExpired, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("delta=%d", tt.delta), func(t *testing.T) {
			stage, sev := Classify(tt.delta)
			if stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, stage)
			}
			if sev != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, sev)
			}
		})
	}
}

func TestDaysUntil_RoundsUp(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		due  time.Time
		want int
	}{
		{"exactly five days", now.Add(5 * 24 * time.Hour), 5},
		{"four and a half days", now.Add(108 * time.Hour), 5},
		{"one hour left", now.Add(time.Hour), 1},
		{"now", now, 0},
		{"half a day ago", now.Add(-12 * time.Hour), 0},
		{"two days ago", now.Add(-48 * time.Hour), -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysUntil(tt.due, now); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCalendarDays(t *testing.T) {
	a := time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 5, 0, 1, 0, 0, time.UTC)
	if got := CalendarDays(a, b); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := CalendarDays(b, a); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
}

func TestAppendHistory_CapsAtLimit(t *testing.T) {
	var h []HistoryEntry
	for i := 0; i < HistoryLimit+5; i++ {
		h = AppendHistory(h, HistoryEntry{Message: fmt.Sprintf("m%d", i)})
	}
	if len(h) != HistoryLimit {
		t.Fatalf("expected %d entries, got %d", HistoryLimit, len(h))
	}
	if h[0].Message != "m5" {
		t.Errorf("expected oldest entry m5, got %s", h[0].Message)
	}
	if h[len(h)-1].Message != fmt.Sprintf("m%d", HistoryLimit+4) {
		t.Errorf("unexpected newest entry %s", h[len(h)-1].Message)
	}
}

func TestNotificationClone_IsDeep(t *testing.T) {
	due := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	n := &Notification{
		DueDate:          &due,
		Metadata:         map[string]any{"name": "Amoxicillin"},
		DeliveryChannels: []Channel{ChannelApp},
		History:          []HistoryEntry{{Message: "a"}},
	}

	c := n.Clone()
	c.Metadata["name"] = "changed"
	c.DeliveryChannels[0] = ChannelEmail
	c.History[0].Message = "b"
	*c.DueDate = due.AddDate(0, 0, 1)

	if n.Metadata["name"] != "Amoxicillin" {
		t.Error("metadata shared with clone")
	}
	if n.DeliveryChannels[0] != ChannelApp {
		t.Error("channels shared with clone")
	}
	if n.History[0].Message != "a" {
		t.Error("history shared with clone")
	}
	if !n.DueDate.Equal(due) {
		t.Error("due date shared with clone")
	}
}

func TestKeyString(t *testing.T) {
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	k := Key{Owner: "u1", Type: TypeVaccineDose, ItemID: "v1", DueDate: &due, Subtype: SubtypeBooster}
	if got := k.String(); got != "u1|VaccineDose|v1|2024-04-01|booster" {
		t.Errorf("unexpected key %q", got)
	}
	k = Key{Owner: "u1", Type: TypeTreatment, ItemID: "t1"}
	if got := k.String(); got != "u1|Treatment|t1|-|-" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestCategoryOf(t *testing.T) {
	if CategoryOf(TypeWeight) != CategoryRoutine {
		t.Error("weight should be routine")
	}
	for _, typ := range []Type{TypeTreatment, TypeVaccine, TypeVaccineDose} {
		if CategoryOf(typ) != CategoryMedical {
			t.Errorf("%s should be medical", typ)
		}
	}
}

func TestListFilter_Matches(t *testing.T) {
	read := true
	n := &Notification{Type: TypeTreatment, Severity: SeverityHigh, Category: CategoryMedical, IsRead: false}

	if !(ListFilter{}).Matches(n) {
		t.Error("empty filter should match")
	}
	if (ListFilter{Read: &read}).Matches(n) {
		t.Error("read filter should not match unread notification")
	}
	if (ListFilter{Type: TypeWeight}).Matches(n) {
		t.Error("type filter should not match")
	}
	if !(ListFilter{Severity: SeverityHigh, Category: CategoryMedical}).Matches(n) {
		t.Error("severity and category filter should match")
	}
}
