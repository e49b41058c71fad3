package domain

import (
	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
)

const moneyScale = 4

// DaySummary folds the hourly aggregates of one date.
type DaySummary struct {
	Date                   string          `json:"date"`
	EventCount             int64           `json:"event_count"`
	TotalRevenue           decimal.Decimal `json:"total_revenue"`
	TotalPlayTimeSeconds   int64           `json:"total_play_time_seconds"`
	TotalPlayers           int64           `json:"total_players"`
	AveragePlayers         decimal.Decimal `json:"average_players"`
	AverageDurationSeconds decimal.Decimal `json:"average_duration_seconds"`
	PeakHour               *int            `json:"peak_hour"`
}

// SummarizeDay folds hours into a single day. The peak hour is the hour with
// the most events, the earliest one on ties, and nil when there are none.
func SummarizeDay(date string, hours []eventdomain.HourAggregate) DaySummary {
	s := DaySummary{
		Date:                   date,
		TotalRevenue:           decimal.Zero,
		AveragePlayers:         decimal.Zero,
		AverageDurationSeconds: decimal.Zero,
	}

	peak, peakCount := -1, int64(0)
	for _, h := range hours {
		if h.EventCount == 0 {
			continue
		}
		s.EventCount += h.EventCount
		s.TotalRevenue = s.TotalRevenue.Add(h.Revenue)
		s.TotalPlayTimeSeconds += h.PlayTimeSeconds
		s.TotalPlayers += h.Players
		if h.EventCount > peakCount || (h.EventCount == peakCount && h.Hour < peak) {
			peak, peakCount = h.Hour, h.EventCount
		}
	}

	s.TotalRevenue = s.TotalRevenue.Round(moneyScale)
	if s.EventCount > 0 {
		count := decimal.NewFromInt(s.EventCount)
		s.AveragePlayers = decimal.NewFromInt(s.TotalPlayers).Div(count).Round(moneyScale)
		s.AverageDurationSeconds = decimal.NewFromInt(s.TotalPlayTimeSeconds).Div(count).Round(moneyScale)
		s.PeakHour = &peak
	}
	return s
}

// GroupByDate splits hourly aggregates by date, keeping date order.
func GroupByDate(hours []eventdomain.HourAggregate) ([]string, map[string][]eventdomain.HourAggregate) {
	var dates []string
	byDate := make(map[string][]eventdomain.HourAggregate)
	for _, h := range hours {
		if _, ok := byDate[h.EventDate]; !ok {
			dates = append(dates, h.EventDate)
		}
		byDate[h.EventDate] = append(byDate[h.EventDate], h)
	}
	return dates, byDate
}
