package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/erosenberg/mailassist/internal/message"
)

func TestLoadAbsentFile(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "index_state.json"))
	s, err := st.Load()
	if err != nil {
		t.Fatalf("Load() on absent file: %v", err)
	}
	if !s.IsZero() {
		t.Errorf("Load() on absent file = %+v, want zero state", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "draft_state.json")
	st := NewStore(path)
	want := State{
		LastProcessedTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		LastProcessedID:   "m42",
	}
	if err := st.Save(want); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	record := `{
  "last_processed_time": "2025-06-01T12:00:00Z",
  "last_processed_id": "m1",
  "schema_version": 2,
  "future_field": {"nested": true}
}`
	if err := os.WriteFile(path, []byte(record), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load() with unknown fields = %v", err)
	}
	if got.LastProcessedID != "m1" {
		t.Errorf("LastProcessedID = %q, want %q", got.LastProcessedID, "m1")
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := NewStore(path)
	first := State{LastProcessedTime: time.Unix(100, 0).UTC(), LastProcessedID: "a"}
	second := State{LastProcessedTime: time.Unix(200, 0).UTC(), LastProcessedID: "b"}
	if err := st.Save(first); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(second); err != nil {
		t.Fatal(err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.LastProcessedID != "b" {
		t.Errorf("LastProcessedID = %q, want %q", got.LastProcessedID, "b")
	}
	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("state dir has %d entries, want 1", len(entries))
	}
}

func TestAdmits(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	wm := State{LastProcessedTime: ts, LastProcessedID: "m5"}

	cases := []struct {
		name     string
		received time.Time
		id       string
		want     bool
	}{
		{"strictly newer", ts.Add(time.Second), "m6", true},
		{"strictly older", ts.Add(-time.Second), "m4", false},
		{"tie with matching id", ts, "m5", false},
		{"tie with different id", ts, "m7", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := wm.Admits(tc.received, tc.id); got != tc.want {
				t.Errorf("Admits(%v, %q) = %v, want %v",
					tc.received, tc.id, got, tc.want)
			}
		})
	}

	t.Run("zero state admits everything", func(t *testing.T) {
		if !(State{}).Admits(time.Unix(0, 1), "m0") {
			t.Error("zero state rejected a message")
		}
	})
}

func TestAdvance(t *testing.T) {
	msg := &message.Message{
		ID:       message.ID{PermID: "m9", ThreadID: "t1"},
		Received: time.Unix(500, 0).UTC(),
	}
	got := (State{}).Advance(msg)
	want := State{LastProcessedTime: msg.Received, LastProcessedID: "m9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Advance() mismatch (-want +got):\n%s", diff)
	}
}
