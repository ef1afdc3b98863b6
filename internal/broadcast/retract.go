package broadcast

import (
	"context"
	"fmt"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// retractLast undoes the last broadcast: for every registered group, the most
// recent ledger record is looked up and its platform message deleted.
// Retraction scope is global (per destination, not per operator). Deletion
// failures are counted as not-deleted and never abort the sweep; older ledger
// records are never touched.
func (s *Service) retractLast(ctx context.Context, chat kit.ChatTarget) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		s.log.Error("group list failed", logx.Err(err))
		return
	}

	var deleted, candidates int
	for _, g := range groups {
		rec, ok, err := s.store.LastSent(ctx, g.ID)
		if err != nil {
			s.log.Warn("ledger lookup failed", logx.Int64("group_id", g.ID), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		candidates++

		ref := kit.MessageRef{ChatID: g.ID, MessageID: rec.MessageID}
		if err := s.adapter.DeleteMessage(ctx, ref); err != nil {
			// Message already gone or permissions revoked; count as not-deleted.
			s.log.Debug("message delete failed", logx.Int64("group_id", g.ID), logx.Err(err))
			continue
		}
		if err := s.store.DeleteSent(ctx, rec.ID); err != nil {
			s.log.Warn("ledger delete failed", logx.Int64("record_id", rec.ID), logx.Err(err))
		}
		deleted++
	}

	s.log.Info("broadcast retracted", logx.Int("deleted", deleted), logx.Int("candidates", candidates))
	s.reply(ctx, chat, fmt.Sprintf(fmtDeletedReport, deleted, candidates), nil)
}
