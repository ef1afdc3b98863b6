package broadcast

import (
	"context"
	"fmt"
	"strings"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/tgui"
)

// listGroups shows the registered groups, re-validating reachability first.
// Unreachable groups are dropped from this view only; dispatch always works
// off the full registry so a dead group surfaces as a delivery failure
// instead of being skipped silently.
func (s *Service) listGroups(ctx context.Context, chat kit.ChatTarget) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		s.log.Error("group list failed", logx.Err(err))
		return
	}

	var b strings.Builder
	n := 0
	for _, g := range groups {
		if err := s.adapter.CheckChat(ctx, kit.ChatTarget{ChatID: g.ID}); err != nil {
			s.log.Debug("group unreachable, hidden from listing", logx.Int64("chat_id", g.ID), logx.Err(err))
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, tgui.Esc(g.Name))
	}

	if n == 0 {
		s.reply(ctx, chat, msgNoGroups, nil)
		return
	}
	text := fmt.Sprintf(fmtGroupList, strings.TrimRight(b.String(), "\n"))
	if _, err := s.adapter.SendText(ctx, chat, text, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		s.log.Warn("reply failed", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}
