package analytics

import (
	"context"
	"sort"
	"time"

	"blackspire-bot/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

// EventCount is one row of a report, ordered by Events.
type EventCount struct {
	Event string
	Count int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// Events lists event totals, most frequent first.
func (r Report) Events() []EventCount {
	out := make([]EventCount, 0, len(r.ByEvent))
	for event, count := range r.ByEvent {
		out = append(out, EventCount{Event: event, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Event < out[j].Event
	})
	return out
}
