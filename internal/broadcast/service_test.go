package broadcast

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
)

const (
	ownerID    = int64(42)
	strangerID = int64(99)
	privateID  = int64(42) // operator's private chat
)

func privateMsg(from int64, text string) *kit.Message {
	return &kit.Message{
		ID:       1,
		ChatID:   privateID,
		ChatKind: kit.ChatPrivate,
		FromID:   from,
		Text:     text,
	}
}

func TestGroupActivityRegistersDestination(t *testing.T) {
	s, _, st := newTestService(t, testConfig())
	ctx := context.Background()

	s.handleMessage(ctx, &kit.Message{
		ID:        1,
		ChatID:    -100500,
		ChatTitle: "Yangiliklar",
		ChatKind:  kit.ChatSuperGroup,
		FromID:    7,
		Text:      "hello everyone",
	})

	groups, err := st.ListGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].ID != -100500 || groups[0].Name != "Yangiliklar" {
		t.Fatalf("groups = %+v", groups)
	}

	// Repeated activity must not duplicate the destination.
	s.handleMessage(ctx, &kit.Message{ID: 2, ChatID: -100500, ChatTitle: "Yangiliklar", ChatKind: kit.ChatSuperGroup, FromID: 7, Text: "again"})
	groups, _ = st.ListGroups(ctx)
	if len(groups) != 1 {
		t.Fatalf("groups after repeat = %d, want 1", len(groups))
	}
}

func TestGroupWithoutTitleGetsPlaceholder(t *testing.T) {
	s, _, st := newTestService(t, testConfig())
	ctx := context.Background()

	s.handleMessage(ctx, &kit.Message{ID: 1, ChatID: -5, ChatKind: kit.ChatGroup, FromID: 7, Text: "hi"})
	groups, _ := st.ListGroups(ctx)
	if len(groups) != 1 || groups[0].Name != "No name" {
		t.Fatalf("groups = %+v, want placeholder name", groups)
	}
}

func TestNonOwnerIsDenied(t *testing.T) {
	s, adp, _ := newTestService(t, testConfig())
	ctx := context.Background()

	s.handleMessage(ctx, privateMsg(strangerID, "salom"))
	if got := adp.lastText(t); got.text != msgDenied {
		t.Fatalf("reply = %q, want %q", got.text, msgDenied)
	}

	// Nothing staged for the stranger.
	if _, ok, _ := s.pending.Get(ctx, strangerID); ok {
		t.Fatal("stranger's message was staged")
	}
}

func TestStartShowsMenu(t *testing.T) {
	s, adp, _ := newTestService(t, testConfig())
	s.handleMessage(context.Background(), privateMsg(ownerID, "/start"))

	got := adp.lastText(t)
	if got.text != msgWelcome {
		t.Fatalf("reply = %q, want %q", got.text, msgWelcome)
	}
	if got.markup == nil || len(got.markup.Keyboard) != 2 {
		t.Fatalf("markup = %+v, want 2-row reply keyboard", got.markup)
	}
	if got.markup.Keyboard[0][0] != menuListGroups || got.markup.Keyboard[1][0] != menuDeleteLast {
		t.Fatalf("menu rows = %+v", got.markup.Keyboard)
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	s, adp, _ := newTestService(t, testConfig())
	ctx := context.Background()

	s.handleMessage(ctx, privateMsg(ownerID, "/whatever"))
	if len(adp.texts) != 0 {
		t.Fatalf("replies = %d, want none for an unknown command", len(adp.texts))
	}
	if _, ok, _ := s.pending.Get(ctx, ownerID); ok {
		t.Fatal("command text was staged as content")
	}
}

// TestComposeSelectSend walks the happy path: the operator sends a text, the
// selection keyboard appears, one group is toggled on, send_selected fans out.
func TestComposeSelectSend(t *testing.T) {
	s, adp, st := newTestService(t, testConfig())
	ctx := context.Background()

	mustEnsureGroup(t, st, -1, "Alpha")
	mustEnsureGroup(t, st, -2, "Beta")

	// Stage.
	s.handleMessage(ctx, privateMsg(ownerID, "Hello"))
	prompt := adp.lastText(t)
	if prompt.text != msgChooseGroups {
		t.Fatalf("prompt = %q, want %q", prompt.text, msgChooseGroups)
	}
	if prompt.markup == nil || len(prompt.markup.Inline) != 3 {
		t.Fatalf("prompt markup = %+v, want 2 group rows + action row", prompt.markup)
	}

	// Toggle Alpha on.
	s.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: ownerID, ChatID: privateID, MessageID: 10, Data: "toggle_-1"})
	if len(adp.edits) != 1 {
		t.Fatalf("markup edits = %d, want 1", len(adp.edits))
	}
	row := adp.edits[0].markup.Inline[0][0]
	if !strings.HasPrefix(row.Text, "✅") {
		t.Fatalf("toggled row = %q, want ✅ marker", row.Text)
	}

	// Dispatch the selection.
	s.handleCallback(ctx, &kit.Callback{ID: "cb2", FromID: ownerID, ChatID: privateID, MessageID: 10, Data: "send_selected"})

	var delivered []sentText
	for _, sent := range adp.texts {
		if sent.text == "Hello" {
			delivered = append(delivered, sent)
		}
	}
	if len(delivered) != 1 || delivered[0].to.ChatID != -1 {
		t.Fatalf("delivered = %+v, want one delivery to -1", delivered)
	}

	report := adp.lastText(t)
	if report.text != fmt.Sprintf(fmtSentReport, 1) {
		t.Fatalf("report = %q", report.text)
	}

	// The selection keyboard must be collapsed after dispatch.
	last := adp.edits[len(adp.edits)-1]
	if last.ref.MessageID != 10 || len(last.markup.Inline) != 0 {
		t.Fatalf("final edit = %+v, want collapsed keyboard on msg 10", last)
	}

	if _, ok, _ := s.pending.Get(ctx, ownerID); ok {
		t.Fatal("pending survived dispatch")
	}

	// Unselected group received nothing, selected group is in the ledger.
	if _, ok, _ := st.LastSent(ctx, -2); ok {
		t.Fatal("unselected group got a ledger row")
	}
	rec, ok, _ := st.LastSent(ctx, -1)
	if !ok || rec.Content != "Hello" {
		t.Fatalf("ledger row = %+v ok=%v", rec, ok)
	}
}

func TestSendSelectedWithNothingSelectedAlerts(t *testing.T) {
	s, adp, st := newTestService(t, testConfig())
	ctx := context.Background()

	mustEnsureGroup(t, st, -1, "Alpha")
	s.handleMessage(ctx, privateMsg(ownerID, "Hello"))

	s.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: ownerID, ChatID: privateID, MessageID: 10, Data: "send_selected"})

	if len(adp.answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(adp.answers))
	}
	a := adp.answers[0]
	if a.text != msgNoneSelected || !a.alert {
		t.Fatalf("answer = %+v, want alert %q", a, msgNoneSelected)
	}
	if _, ok, _ := s.pending.Get(ctx, ownerID); !ok {
		t.Fatal("pending was cleared by the empty-selection alert")
	}
}

func TestStaleCallbackIsSilentlyDropped(t *testing.T) {
	s, adp, _ := newTestService(t, testConfig())
	ctx := context.Background()

	// No staged broadcast at all.
	s.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: ownerID, ChatID: privateID, MessageID: 10, Data: "toggle_-1"})
	s.handleCallback(ctx, &kit.Callback{ID: "cb2", FromID: ownerID, ChatID: privateID, MessageID: 10, Data: "send_selected"})

	if len(adp.texts) != 0 || len(adp.edits) != 0 || len(adp.answers) != 0 {
		t.Fatalf("stale callbacks caused traffic: texts=%d edits=%d answers=%d",
			len(adp.texts), len(adp.edits), len(adp.answers))
	}
}

func TestNewSubmissionReplacesPending(t *testing.T) {
	s, _, st := newTestService(t, testConfig())
	ctx := context.Background()

	mustEnsureGroup(t, st, -1, "Alpha")

	s.handleMessage(ctx, privateMsg(ownerID, "first"))
	if _, _, err := s.pending.Toggle(ctx, ownerID, -1); err != nil {
		t.Fatal(err)
	}

	s.handleMessage(ctx, privateMsg(ownerID, "second"))
	p, ok, err := s.pending.Get(ctx, ownerID)
	if err != nil || !ok {
		t.Fatalf("pending get ok=%v err=%v", ok, err)
	}
	if body := p.Content.(Text).Body; body != "second" {
		t.Fatalf("pending body = %q, want %q", body, "second")
	}
	// Replacement resets the selection.
	if len(p.Groups) != 0 {
		t.Fatalf("selection = %v, want empty after replacement", p.Groups)
	}
}

func TestRetractLast(t *testing.T) {
	s, adp, st := newTestService(t, testConfig())
	ctx := context.Background()

	mustEnsureGroup(t, st, -1, "Alpha")
	mustEnsureGroup(t, st, -2, "Beta")
	mustEnsureGroup(t, st, -3, "Gamma") // never broadcast to

	// Two broadcasts to Alpha; only the newer one may be retracted.
	if _, err := st.AppendSent(ctx, storage.SentMessage{OwnerID: ownerID, GroupID: -1, Kind: kindText, Content: "old", MessageID: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendSent(ctx, storage.SentMessage{OwnerID: ownerID, GroupID: -1, Kind: kindText, Content: "new", MessageID: 101}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendSent(ctx, storage.SentMessage{OwnerID: ownerID, GroupID: -2, Kind: kindText, Content: "new", MessageID: 200}); err != nil {
		t.Fatal(err)
	}

	s.handleMessage(ctx, privateMsg(ownerID, menuDeleteLast))

	if len(adp.deletes) != 2 {
		t.Fatalf("deletes = %+v, want 2", adp.deletes)
	}
	gotIDs := map[int]bool{}
	for _, d := range adp.deletes {
		gotIDs[d.MessageID] = true
	}
	if !gotIDs[101] || !gotIDs[200] || gotIDs[100] {
		t.Fatalf("deleted message ids = %v, want 101 and 200 only", gotIDs)
	}

	if got := adp.lastText(t); got.text != fmt.Sprintf(fmtDeletedReport, 2, 2) {
		t.Fatalf("report = %q", got.text)
	}

	// The older Alpha row is now the group's latest.
	rec, ok, _ := st.LastSent(ctx, -1)
	if !ok || rec.MessageID != 100 {
		t.Fatalf("LastSent(-1) = %+v ok=%v, want the old row", rec, ok)
	}
}

func TestRetractCountsUndeletable(t *testing.T) {
	s, adp, st := newTestService(t, testConfig())
	ctx := context.Background()

	mustEnsureGroup(t, st, -1, "Alpha")
	mustEnsureGroup(t, st, -2, "Beta")

	if _, err := st.AppendSent(ctx, storage.SentMessage{GroupID: -1, Kind: kindText, MessageID: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendSent(ctx, storage.SentMessage{GroupID: -2, Kind: kindText, MessageID: 200}); err != nil {
		t.Fatal(err)
	}
	adp.deleteErr[200] = fmt.Errorf("message can't be deleted")

	s.handleMessage(ctx, privateMsg(ownerID, menuDeleteLast))

	if got := adp.lastText(t); got.text != fmt.Sprintf(fmtDeletedReport, 1, 2) {
		t.Fatalf("report = %q, want 1 of 2", got.text)
	}
	// The undeletable row stays in the ledger.
	if _, ok, _ := st.LastSent(ctx, -2); !ok {
		t.Fatal("ledger row for failed delete was removed")
	}
}

func TestListGroupsHidesUnreachable(t *testing.T) {
	s, adp, st := newTestService(t, testConfig())
	ctx := context.Background()

	mustEnsureGroup(t, st, -1, "Alpha")
	mustEnsureGroup(t, st, -2, "Beta")
	adp.unreachable[-2] = true

	s.handleMessage(ctx, privateMsg(ownerID, menuListGroups))

	got := adp.lastText(t)
	if !strings.Contains(got.text, "Alpha") || strings.Contains(got.text, "Beta") {
		t.Fatalf("listing = %q, want Alpha only", got.text)
	}
}

func TestListGroupsEmpty(t *testing.T) {
	s, adp, _ := newTestService(t, testConfig())
	s.handleMessage(context.Background(), privateMsg(ownerID, menuListGroups))
	if got := adp.lastText(t); got.text != msgNoGroups {
		t.Fatalf("reply = %q, want %q", got.text, msgNoGroups)
	}
}

func TestAlbumPartsAreBuffered(t *testing.T) {
	s, adp, _ := newTestService(t, testConfig())
	ctx := context.Background()

	msg := privateMsg(ownerID, "")
	msg.AlbumID = "grp-1"
	msg.Media = &kit.MediaItem{Kind: kit.MediaPhoto, FileID: "p1"}
	s.handleMessage(ctx, msg)

	// No prompt until the debounce window elapses.
	if len(adp.texts) != 0 {
		t.Fatalf("replies = %d, want none while the album is buffering", len(adp.texts))
	}
	if _, ok, _ := s.pending.Get(ctx, ownerID); ok {
		t.Fatal("album part staged before the batch was finalized")
	}
}
