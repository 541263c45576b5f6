package service

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/reposter/internal/models"
	"github.com/ifuryst/reposter/internal/service/ledger"
)

type SelectRequest struct {
	Origins     []string
	Count       int
	MinRank     float64
	Destination string
}

// CandidateSelector picks the highest ranked items that have not been
// published to a destination and whose media is fully mirrored.
type CandidateSelector struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	logger        *zap.Logger
	maxIterations int
}

func NewCandidateSelector(db *gorm.DB, ledger *ledger.Ledger, maxIterations int, logger *zap.Logger) *CandidateSelector {
	return &CandidateSelector{
		db:            db,
		ledger:        ledger,
		logger:        logger,
		maxIterations: maxIterations,
	}
}

// Select returns up to req.Count items in descending rank order. Every
// fetched id joins the exclusion set, valid or not, so a rejected item is
// never fetched twice and the loop ends once the origins run dry.
func (s *CandidateSelector) Select(ctx context.Context, req SelectRequest) ([]models.CandidateItem, error) {
	if req.Count <= 0 || len(req.Origins) == 0 {
		return nil, nil
	}

	published, err := s.ledger.SuccessfulItemIDs(ctx, req.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to load published items: %w", err)
	}
	excluded := mapset.NewThreadUnsafeSet[uint](published...)

	selected := make([]models.CandidateItem, 0, req.Count)
	for iteration := 1; len(selected) < req.Count; iteration++ {
		if s.maxIterations > 0 && iteration > s.maxIterations {
			s.logger.Warn("Candidate selection hit iteration limit",
				zap.String("destination", req.Destination),
				zap.Int("iterations", s.maxIterations),
				zap.Int("selected", len(selected)),
				zap.Int("wanted", req.Count))
			break
		}

		tx := s.db.WithContext(ctx).Where("origin_id IN ? AND rank >= ?", req.Origins, req.MinRank)
		if excluded.Cardinality() > 0 {
			tx = tx.Where("id NOT IN ?", excluded.ToSlice())
		}

		var batch []models.CandidateItem
		if err := tx.Order("rank DESC").
			Order("id ASC").
			Limit(req.Count - len(selected)).
			Find(&batch).Error; err != nil {
			return selected, fmt.Errorf("failed to query candidates: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			excluded.Add(batch[i].ID)
			if batch[i].MediaMirrored() {
				selected = append(selected, batch[i])
			}
		}
	}

	s.logger.Debug("Candidates selected",
		zap.String("destination", req.Destination),
		zap.Int("selected", len(selected)),
		zap.Int("excluded", excluded.Cardinality()))
	return selected, nil
}
