package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/prode/internal/domain/model"
	"github.com/okian/prode/pkg/logger"
)

// Target accepts the generated data. The service implements it.
type Target interface {
	PublishResult(ctx context.Context, o *model.OfficialResult) (model.OfficialResult, error)
	SubmitPrediction(ctx context.Context, p *model.Prediction, fields ...string) (model.Prediction, error)
}

// Purger removes predictions. Stores implement it.
type Purger interface {
	List(ctx context.Context) ([]model.Row, error)
	DeleteWhere(ctx context.Context, match func(*model.Prediction) bool) (int, error)
}

// Run saves one official result and cfg.Players predictions jittered around
// it. Rejected predictions are counted and logged, not fatal.
func Run(ctx context.Context, target Target, cfg Config, log logger.Logger) (Report, error) {
	gen := NewGenerator(cfg)

	result := gen.Result(cfg.Publish)
	saved, err := target.PublishResult(ctx, &result)
	if err != nil {
		return Report{}, fmt.Errorf("save result: %w", err)
	}
	log.Info(ctx, "official result saved",
		logger.String("id", saved.ID),
		logger.Bool("published", saved.Published),
	)

	rep := Report{ResultID: saved.ID, Published: saved.Published}
	for i := 1; i <= cfg.Players; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p := gen.Prediction(i, &result)
		if _, err := target.SubmitPrediction(ctx, &p); err != nil {
			rep.Rejected++
			log.Warn(ctx, "prediction rejected", logger.String("username", p.Username), logger.Error(err))
			continue
		}
		rep.Submitted++
	}
	log.Info(ctx, "seeding finished",
		logger.Int("submitted", rep.Submitted),
		logger.Int("rejected", rep.Rejected),
	)
	return rep, nil
}

// IsSeeded reports whether p looks like synthetic test data.
func IsSeeded(p *model.Prediction) bool {
	return strings.HasSuffix(model.NormalizeEmail(p.Email), EmailDomain) ||
		strings.HasPrefix(strings.ToLower(p.Username), strings.ToLower(UsernamePrefix))
}

// Purge deletes seeded predictions and returns how many matched. With dryRun
// set nothing is deleted.
func Purge(ctx context.Context, store Purger, dryRun bool) (int, error) {
	if !dryRun {
		n, err := store.DeleteWhere(ctx, IsSeeded)
		if err != nil {
			return 0, fmt.Errorf("purge: %w", err)
		}
		return n, nil
	}
	rows, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list: %w", err)
	}
	n := 0
	for i := range rows {
		if IsSeeded(&rows[i].Prediction) {
			n++
		}
	}
	return n, nil
}
