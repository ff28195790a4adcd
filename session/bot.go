package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fidgetfighter/config"
	"fidgetfighter/physics"
)

// RunBot 无界面客户端：连接并排队，开局后甩一次，结束后确认结果；
// Rematch 为 true 时重新排队。ctx 取消或连接丢失时返回
func RunBot(ctx context.Context, s *Session, cfg config.BotConfig, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	updates, cancel := s.Subscribe(64)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		return err
	}

	last := Disconnected
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.State == last {
				continue
			}
			prev := last
			last = snap.State

			switch snap.State {
			case InGame:
				rpm, err := fling(ctx, s, cfg)
				if err != nil {
					log.Warnw("fling failed", "err", err)
					continue
				}
				log.Infow("fling", "rpm", rpm)
			case GameOver:
				if snap.Result != nil {
					log.Infow("match finished", "winner", snap.Result.Winner, "outcome", snap.Result.Outcome,
						"wins", snap.Record.Wins, "losses", snap.Record.Losses)
				}
				if err := s.Dismiss(ctx); err != nil {
					return err
				}
			case Disconnected:
				if snap.LastError != "" {
					return fmt.Errorf("connection lost: %s", snap.LastError)
				}
				if prev != GameOver || !cfg.Rematch {
					return nil
				}
				if err := s.Connect(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// fling 合成一次拖动并松手
func fling(ctx context.Context, s *Session, cfg config.BotConfig) (float64, error) {
	d := cfg.FlingDuration
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	sample := physics.GestureSample{
		PositionDelta:  cfg.FlingVelocity * d.Seconds(),
		TimestampDelta: d,
	}
	if _, err := s.Drag(ctx, sample); err != nil {
		return 0, err
	}
	return s.Release(ctx)
}
