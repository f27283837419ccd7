package usecase

import (
	"context"
	"fmt"

	"github.com/sergeydz/perpmm/internal/domain"
	"go.uber.org/zap"
)

// FillSummary aggregates journaled fills for the operator report.
type FillSummary struct {
	Count    int
	Volume   float64
	PnL      float64
	Wins     int
	Losses   int
	WinRate  float64
	AvgPnL   float64
	BestPnL  float64
	WorstPnL float64
}

// SessionReport is the journal-derived view printed by the report command.
type SessionReport struct {
	Sessions []*domain.SessionRow
	Fills    FillSummary
}

type ReportService struct {
	journal domain.TradeJournal
	logger  *zap.Logger
}

func NewReportService(journal domain.TradeJournal, logger *zap.Logger) *ReportService {
	return &ReportService{
		journal: journal,
		logger:  logger,
	}
}

// Build reads the trailing journal slices and aggregates them. Limits of
// zero fall back to sensible report sizes.
func (s *ReportService) Build(ctx context.Context, fillLimit, sessionLimit int) (*SessionReport, error) {
	if fillLimit <= 0 {
		fillLimit = 200
	}
	if sessionLimit <= 0 {
		sessionLimit = 20
	}

	fills, err := s.journal.ListFills(ctx, fillLimit)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	sessions, err := s.journal.ListSessions(ctx, sessionLimit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return &SessionReport{
		Sessions: sessions,
		Fills:    summarizeFills(fills),
	}, nil
}

func summarizeFills(fills []*domain.JournalFill) FillSummary {
	var sum FillSummary
	for i, f := range fills {
		sum.Count++
		sum.Volume += f.Notional
		sum.PnL += f.PnL
		switch {
		case f.PnL > 0:
			sum.Wins++
		case f.PnL < 0:
			sum.Losses++
		}
		if i == 0 || f.PnL > sum.BestPnL {
			sum.BestPnL = f.PnL
		}
		if i == 0 || f.PnL < sum.WorstPnL {
			sum.WorstPnL = f.PnL
		}
	}
	if sum.Count > 0 {
		sum.WinRate = float64(sum.Wins) / float64(sum.Count)
		sum.AvgPnL = sum.PnL / float64(sum.Count)
	}
	return sum
}
