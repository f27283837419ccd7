package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/sergeydz/perpmm/internal/domain"
)

// SavedFill captures one SaveFill call with its correlation keys.
type SavedFill struct {
	SessionID string
	ClientID  string
	Fill      domain.Fill
}

// MockJournal records every write; Err, when set, fails all of them.
type MockJournal struct {
	mu sync.Mutex

	Err      error
	Fills    []SavedFill
	Attempts []domain.OrderAttempt
	Opened   []domain.SessionRow
	Closed   []domain.SessionRow

	ListFillRows    []*domain.JournalFill
	ListSessionRows []*domain.SessionRow
}

func (j *MockJournal) SaveFill(ctx context.Context, sessionID, clientID string, f *domain.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return j.Err
	}
	j.Fills = append(j.Fills, SavedFill{SessionID: sessionID, ClientID: clientID, Fill: *f})
	return nil
}

func (j *MockJournal) SaveOrderAttempt(ctx context.Context, a *domain.OrderAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return j.Err
	}
	j.Attempts = append(j.Attempts, *a)
	return nil
}

func (j *MockJournal) ListFills(ctx context.Context, limit int) ([]*domain.JournalFill, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return nil, j.Err
	}
	return j.ListFillRows, nil
}

func (j *MockJournal) OpenSession(ctx context.Context, sessionID, asset string, startedAt time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return j.Err
	}
	j.Opened = append(j.Opened, domain.SessionRow{ID: sessionID, Asset: asset, StartedAt: startedAt})
	return nil
}

func (j *MockJournal) CloseSession(ctx context.Context, sessionID string, endedAt time.Time, cycles, fills int, volume, pnl float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return j.Err
	}
	j.Closed = append(j.Closed, domain.SessionRow{
		ID:      sessionID,
		EndedAt: endedAt,
		Cycles:  cycles,
		Fills:   fills,
		Volume:  volume,
		PnL:     pnl,
	})
	return nil
}

func (j *MockJournal) ListSessions(ctx context.Context, limit int) ([]*domain.SessionRow, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Err != nil {
		return nil, j.Err
	}
	return j.ListSessionRows, nil
}

// snapshotAttempts copies out the attempt rows for assertions.
func (j *MockJournal) snapshotAttempts() []domain.OrderAttempt {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.OrderAttempt, len(j.Attempts))
	copy(out, j.Attempts)
	return out
}
