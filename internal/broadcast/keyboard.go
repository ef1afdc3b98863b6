package broadcast

import (
	"strconv"
	"strings"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/pkg/tgui"
)

// Callback wire protocol. Toggle actions carry the destination id after a
// fixed prefix; the two terminal actions are fixed literal tokens. Must stay
// stable across versions.
const (
	cbTogglePrefix = "toggle_"
	cbSendSelected = "send_selected"
	cbSendAll      = "send_all"
)

// selectionMarkup renders the group multi-select keyboard: one toggle row per
// registered group in insertion order, plus the two dispatch actions.
func selectionMarkup(groups []storage.Group, selected []int64) *kit.Markup {
	sel := make(map[int64]bool, len(selected))
	for _, id := range selected {
		sel[id] = true
	}

	kb := tgui.NewInline()
	for _, g := range groups {
		mark := "❌"
		if sel[g.ID] {
			mark = "✅"
		}
		kb.Row(tgui.Btn(mark+" "+g.Name, cbTogglePrefix+strconv.FormatInt(g.ID, 10)))
	}
	kb.Row(
		tgui.Btn(btnSendSelected, cbSendSelected),
		tgui.Btn(btnSendAll, cbSendAll),
	)
	return kb.Markup()
}

// parseToggle extracts the destination id from a toggle callback payload.
func parseToggle(data string) (int64, bool) {
	raw, ok := strings.CutPrefix(data, cbTogglePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// mainMenu is the persistent reply keyboard shown on /start.
func mainMenu() *kit.Markup {
	return tgui.ReplyMenu(
		[]string{menuListGroups},
		[]string{menuDeleteLast},
	)
}
