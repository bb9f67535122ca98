package usecases

import (
	"context"
	"time"

	"retailcrm/internal/entities"
)

const (
	DefaultUsageDays = 30
	MaxUsageDays     = 90
)

// Dashboard reports organization level activity.
type Dashboard struct {
	usage UsageStore
	now   func() time.Time
}

func NewDashboard(usage UsageStore) *Dashboard {
	return &Dashboard{usage: usage, now: time.Now}
}

// Usage returns one entry per UTC day for the last days days, today
// included. Days without traffic are reported as zeros.
func (d *Dashboard) Usage(ctx context.Context, orgID string, days int) (*entities.UsageSummary, error) {
	switch {
	case days <= 0:
		days = DefaultUsageDays
	case days > MaxUsageDays:
		days = MaxUsageDays
	}
	today := d.now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(days - 1))

	recorded, err := d.usage.History(ctx, orgID, from)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]entities.DailyUsage, len(recorded))
	for _, u := range recorded {
		byDay[u.Date.Format(time.DateOnly)] = u
	}

	summary := &entities.UsageSummary{Days: make([]entities.DailyUsage, 0, days)}
	for day := from; !day.After(today); day = day.AddDate(0, 0, 1) {
		u, ok := byDay[day.Format(time.DateOnly)]
		if !ok {
			u = entities.DailyUsage{}
		}
		u.Date = day
		summary.Days = append(summary.Days, u)
		summary.TotalSent += u.MessagesSent
		summary.TotalReceived += u.MessagesReceived
		summary.TotalAIReplies += u.AIReplies
	}
	return summary, nil
}
