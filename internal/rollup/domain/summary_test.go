package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hour(h int, count int64, revenue string, play int64) eventdomain.HourAggregate {
	return eventdomain.HourAggregate{
		EventDate:       "2024-03-15",
		Hour:            h,
		EventCount:      count,
		Revenue:         decimal.RequireFromString(revenue),
		PlayTimeSeconds: play,
		Players:         count * 2,
	}
}

func TestSummarizeDay(t *testing.T) {
	s := SummarizeDay("2024-03-15", []eventdomain.HourAggregate{
		hour(10, 2, "1.00", 120),
		hour(11, 1, "0.50", 30),
	})

	assert.Equal(t, int64(3), s.EventCount)
	assert.Equal(t, "1.5000", s.TotalRevenue.StringFixed(4))
	assert.Equal(t, int64(150), s.TotalPlayTimeSeconds)
	assert.Equal(t, int64(6), s.TotalPlayers)
	assert.Equal(t, "2.0000", s.AveragePlayers.StringFixed(4))
	assert.Equal(t, "50.0000", s.AverageDurationSeconds.StringFixed(4))
	require.NotNil(t, s.PeakHour)
	assert.Equal(t, 10, *s.PeakHour)
}

func TestSummarizeDayPeakHourTieTakesEarliest(t *testing.T) {
	s := SummarizeDay("2024-03-15", []eventdomain.HourAggregate{
		hour(17, 2, "1.00", 0),
		hour(9, 2, "1.00", 0),
		hour(12, 1, "0.50", 0),
	})

	require.NotNil(t, s.PeakHour)
	assert.Equal(t, 9, *s.PeakHour)
}

func TestSummarizeDayEmpty(t *testing.T) {
	s := SummarizeDay("2024-03-15", nil)

	assert.Zero(t, s.EventCount)
	assert.True(t, s.TotalRevenue.IsZero())
	assert.True(t, s.AveragePlayers.IsZero())
	assert.Nil(t, s.PeakHour)
}

func TestSummarizeDayRoundsAverages(t *testing.T) {
	h := hour(8, 3, "1.00", 10)
	h.Players = 2
	s := SummarizeDay("2024-03-15", []eventdomain.HourAggregate{h})

	assert.Equal(t, "0.6667", s.AveragePlayers.StringFixed(4))
	assert.Equal(t, "3.3333", s.AverageDurationSeconds.StringFixed(4))
}

func TestGroupByDate(t *testing.T) {
	a := hour(1, 1, "1", 0)
	b := hour(2, 1, "1", 0)
	c := hour(3, 1, "1", 0)
	c.EventDate = "2024-03-16"

	dates, byDate := GroupByDate([]eventdomain.HourAggregate{a, b, c})
	assert.Equal(t, []string{"2024-03-15", "2024-03-16"}, dates)
	assert.Len(t, byDate["2024-03-15"], 2)
	assert.Len(t, byDate["2024-03-16"], 1)
}
