package executor

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Poll waits for token to reach a terminal status. Each attempt sleeps the
// fixed interval first; failed fetches count as not yet terminal.
func (c *Client) Poll(ctx context.Context, token model.SubmissionToken) (model.JudgementResult, error) {
	cfg := c.Config()
	for attempt := 1; attempt <= cfg.PollAttempts; attempt++ {
		if err := c.clock.Sleep(ctx, cfg.PollInterval); err != nil {
			return model.JudgementResult{}, err
		}
		res, err := c.GetSubmission(ctx, token)
		if err != nil {
			logger.Warn(ctx, "poll submission failed, retrying",
				zap.String("token", token),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if res.Status.IsTerminal() {
			return res, nil
		}
	}
	logger.Error(ctx, "poll budget exhausted",
		zap.String("token", token),
		zap.Int("attempts", cfg.PollAttempts),
		zap.Duration("interval", cfg.PollInterval),
	)
	return model.JudgementResult{}, appErr.PollTimeout(token, cfg.PollAttempts)
}

// Clock returns the clock pacing this client's polls.
func (c *Client) Clock() Clock {
	return c.clock
}

// PollBudget returns the configured interval and attempt budget.
func (c *Client) PollBudget() (time.Duration, int) {
	cfg := c.Config()
	return cfg.PollInterval, cfg.PollAttempts
}
