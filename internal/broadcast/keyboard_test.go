package broadcast

import (
	"testing"

	"relaybot/internal/storage"
)

func TestSelectionMarkupLayout(t *testing.T) {
	groups := []storage.Group{
		{ID: -100111, Name: "Alpha"},
		{ID: -100222, Name: "Beta"},
		{ID: -100333, Name: "Gamma"},
	}

	m := selectionMarkup(groups, []int64{-100222})
	if len(m.Inline) != 4 {
		t.Fatalf("rows = %d, want 3 group rows + 1 action row", len(m.Inline))
	}

	wantRows := []struct {
		text string
		data string
	}{
		{"❌ Alpha", "toggle_-100111"},
		{"✅ Beta", "toggle_-100222"},
		{"❌ Gamma", "toggle_-100333"},
	}
	for i, want := range wantRows {
		row := m.Inline[i]
		if len(row) != 1 {
			t.Fatalf("row %d has %d buttons, want 1", i, len(row))
		}
		if row[0].Text != want.text || row[0].Data != want.data {
			t.Fatalf("row %d = %q/%q, want %q/%q", i, row[0].Text, row[0].Data, want.text, want.data)
		}
	}

	actions := m.Inline[3]
	if len(actions) != 2 {
		t.Fatalf("action row has %d buttons, want 2", len(actions))
	}
	if actions[0].Data != "send_selected" {
		t.Fatalf("first action data = %q, want %q", actions[0].Data, "send_selected")
	}
	if actions[1].Data != "send_all" {
		t.Fatalf("second action data = %q, want %q", actions[1].Data, "send_all")
	}
}

func TestSelectionMarkupNoGroups(t *testing.T) {
	m := selectionMarkup(nil, nil)
	if len(m.Inline) != 1 {
		t.Fatalf("rows = %d, want just the action row", len(m.Inline))
	}
}

func TestParseToggle(t *testing.T) {
	cases := []struct {
		data   string
		wantID int64
		wantOK bool
	}{
		{"toggle_-100111", -100111, true},
		{"toggle_42", 42, true},
		{"toggle_", 0, false},
		{"toggle_abc", 0, false},
		{"send_selected", 0, false},
		{"send_all", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		id, ok := parseToggle(tc.data)
		if ok != tc.wantOK || id != tc.wantID {
			t.Errorf("parseToggle(%q) = (%d, %v), want (%d, %v)", tc.data, id, ok, tc.wantID, tc.wantOK)
		}
	}
}
