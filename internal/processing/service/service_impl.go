package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	"github.com/mixforge/mixforge/internal/clock"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	obsmetrics "github.com/mixforge/mixforge/internal/observability/metrics"
	"github.com/mixforge/mixforge/internal/pricing"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	"github.com/mixforge/mixforge/internal/queue"
	"github.com/mixforge/mixforge/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Pricing *pricing.Engine
	Queue   queue.Queue
	Metrics *obsmetrics.EngineMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	pricing *pricing.Engine
	queue   queue.Queue
	metrics *obsmetrics.EngineMetrics
}

func NewService(p Params) processingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("processing.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		pricing: p.Pricing,
		queue:   p.Queue,
		metrics: p.Metrics,
	}
}

// Estimate prices a request without committing anything. It runs the same
// sanitize + quote path as Start so the displayed estimate always equals the
// amount later debited for identical settings.
func (s *Service) Estimate(ctx context.Context, req processingdomain.EstimateRequest) (processingdomain.EstimateResponse, error) {
	st, err := settings.Sanitize(req.RawSettings)
	if err != nil {
		return processingdomain.EstimateResponse{}, err
	}

	quote := s.pricing.Quote(st.OutputCount, st)

	var user accountdomain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return processingdomain.EstimateResponse{}, creditdomain.ErrUserNotFound
		}
		return processingdomain.EstimateResponse{}, err
	}

	resp := processingdomain.EstimateResponse{
		CreditsRequired:  quote.CreditsRequired,
		UserCredits:      user.Credits,
		HasEnoughCredits: user.Credits >= quote.CreditsRequired,
		Breakdown:        quote.Breakdown,
		Strength:         quote.Strength,
	}
	if req.VideoCount > 0 {
		variants := pricing.EstimateVariants(req.VideoCount, st)
		resp.TheoreticalVariants = &variants
	}
	return resp, nil
}
