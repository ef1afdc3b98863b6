package broadcast

import (
	"context"
	"time"

	logx "relaybot/pkg/logx"
)

// PruneLedger drops delivery records older than the retention window.
// Wired to a cron schedule by the app; retraction only ever needs the most
// recent record per group, so old rows are dead weight.
func (s *Service) PruneLedger(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.config().LedgerRetention)
	n, err := s.store.PruneSent(ctx, cutoff)
	if err != nil {
		s.log.Warn("ledger prune failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		s.log.Info("ledger pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}
