package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// checkFunding переводит доску в funded, если цель достигнута. Повторный вызов безопасен.
func (s *Service) checkFunding(ctx context.Context, dreamBoardID string) error {
	funded, err := s.store.MarkDreamBoardFundedIfNeeded(ctx, dreamBoardID)
	if err != nil {
		return fmt.Errorf("check funding: %w", err)
	}
	if !funded {
		return nil
	}

	fields := []zap.Field{zap.String("dream_board_id", dreamBoardID)}
	if b, err := s.store.FindDreamBoard(ctx, dreamBoardID); err == nil {
		fields = append(fields, zap.Int64("goal_cents", b.GoalCents))
		if b.FundedAt != nil {
			fields = append(fields, zap.Time("funded_at", *b.FundedAt))
		}
	}
	if raised, err := s.store.RaisedCents(ctx, dreamBoardID); err == nil {
		fields = append(fields, zap.Int64("raised_cents", raised))
	}
	s.logger.Info("dream board funded", fields...)
	return nil
}
