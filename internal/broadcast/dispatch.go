package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

var (
	ErrNoPending = errors.New("no pending broadcast")
	ErrNoTargets = errors.New("no targets resolved")
)

type targetSelector int

const (
	selectSelected targetSelector = iota
	selectAll
)

// Report summarizes one dispatch run.
type Report struct {
	RunID string
	Total int
	Sent  int
}

// confirm handles a terminal keyboard action: resolve targets, fan out,
// report the count, and collapse the selection keyboard so the stale control
// can't be re-submitted.
func (s *Service) confirm(ctx context.Context, cb *kit.Callback, sel targetSelector) {
	rep, err := s.dispatch(ctx, cb.FromID, sel)
	switch {
	case errors.Is(err, ErrNoTargets):
		_ = s.adapter.AnswerCallback(ctx, cb.ID, msgNoneSelected, true)
		return
	case errors.Is(err, ErrNoPending):
		return
	case err != nil:
		s.log.Error("dispatch failed", logx.Int64("owner_id", cb.FromID), logx.Err(err))
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	s.reply(ctx, chat, fmt.Sprintf(fmtSentReport, rep.Sent), nil)

	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	if err := s.adapter.EditMarkup(ctx, ref, &kit.Markup{}); err != nil {
		s.log.Warn("keyboard collapse failed", logx.Err(err))
	}
	_ = s.adapter.AnswerCallback(ctx, cb.ID, "", false)
}

// dispatch drains the owner's pending broadcast against the resolved target
// set. Each target is attempted independently; one group's failure never
// aborts the rest. The pending broadcast is cleared regardless of per-target
// outcomes once the loop completes.
func (s *Service) dispatch(ctx context.Context, ownerID int64, sel targetSelector) (Report, error) {
	p, ok, err := s.pending.Get(ctx, ownerID)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, ErrNoPending
	}

	var targets []int64
	switch sel {
	case selectAll:
		groups, err := s.store.ListGroups(ctx)
		if err != nil {
			return Report{}, err
		}
		for _, g := range groups {
			targets = append(targets, g.ID)
		}
	default:
		targets = p.Groups
	}
	if len(targets) == 0 {
		return Report{}, ErrNoTargets
	}

	rep := Report{RunID: uuid.NewString(), Total: len(targets)}
	log := s.log.With(logx.String("run_id", rep.RunID), logx.Int64("owner_id", ownerID))
	limiter := s.rateLimiter()

	for _, gid := range targets {
		if limiter != nil {
			_ = limiter.Wait(ctx)
		}
		units, err := s.deliver(ctx, gid, p.Content)
		if err != nil {
			log.Warn("delivery failed", logx.Int64("group_id", gid), logx.Err(err))
			continue
		}
		rep.Sent++
		now := time.Now()
		for _, u := range units {
			_, err := s.store.AppendSent(ctx, storage.SentMessage{
				OwnerID:   ownerID,
				GroupID:   gid,
				Kind:      u.kind,
				Content:   u.content,
				Caption:   u.caption,
				SentAt:    now,
				MessageID: u.messageID,
			})
			if err != nil {
				log.Error("ledger append failed", logx.Int64("group_id", gid), logx.Err(err))
			}
		}
	}

	if err := s.pending.Clear(ctx, ownerID); err != nil {
		log.Error("pending clear failed", logx.Err(err))
	}

	log.Info("broadcast dispatched", logx.Int("sent", rep.Sent), logx.Int("targets", rep.Total))
	return rep, nil
}

// deliveredUnit is one ledger row worth of bookkeeping: albums produce one
// unit per item, everything else exactly one.
type deliveredUnit struct {
	kind      string
	content   string
	caption   string
	messageID int
}

// deliver performs one delivery attempt appropriate to the content kind,
// retrying transient platform errors with exponential backoff before the
// target counts as failed.
func (s *Service) deliver(ctx context.Context, groupID int64, c Content) ([]deliveredUnit, error) {
	to := kit.ChatTarget{ChatID: groupID}
	opt := &kit.SendOptions{ParseMode: "HTML"}
	retryMax := uint64(s.config().RetryMax)

	var units []deliveredUnit
	op := func() error {
		units = units[:0]
		switch v := c.(type) {
		case Text:
			ref, err := s.adapter.SendText(ctx, to, v.Body, opt)
			if err != nil {
				return err
			}
			units = append(units, deliveredUnit{kind: kindText, content: v.Body, messageID: ref.MessageID})
		case Media:
			item := kit.MediaItem{Kind: v.Kind, FileID: v.FileID, Caption: v.Caption}
			var (
				ref kit.MessageRef
				err error
			)
			if v.Kind == kit.MediaVideo {
				ref, err = s.adapter.SendVideo(ctx, to, item, opt)
			} else {
				ref, err = s.adapter.SendPhoto(ctx, to, item, opt)
			}
			if err != nil {
				return err
			}
			units = append(units, deliveredUnit{kind: string(v.Kind), content: v.FileID, caption: v.Caption, messageID: ref.MessageID})
		case Album:
			items := make([]kit.MediaItem, 0, len(v.Items))
			for _, it := range v.Items {
				items = append(items, kit.MediaItem{Kind: it.Kind, FileID: it.FileID, Caption: it.Caption})
			}
			// One grouped platform call: a partially rejected album is a
			// single failure for this target, never a partial ledger write.
			refs, err := s.adapter.SendAlbum(ctx, to, items)
			if err != nil {
				return err
			}
			for i, it := range v.Items {
				msgID := 0
				if i < len(refs) {
					msgID = refs[i].MessageID
				}
				units = append(units, deliveredUnit{kind: string(it.Kind), content: it.FileID, caption: it.Caption, messageID: msgID})
			}
		default:
			return backoff.Permanent(fmt.Errorf("unknown content type %T", c))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retryMax), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return units, nil
}
