package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coinpulse/internal/clock"
	"github.com/smallbiznis/coinpulse/internal/config"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	eventrepo "github.com/smallbiznis/coinpulse/internal/event/repository"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	machinerepo "github.com/smallbiznis/coinpulse/internal/machine/repository"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	rolluprepo "github.com/smallbiznis/coinpulse/internal/rollup/repository"
	rollupservice "github.com/smallbiznis/coinpulse/internal/rollup/service"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
	"github.com/smallbiznis/coinpulse/internal/stats/service"
	"github.com/smallbiznis/coinpulse/internal/storetest"
	"github.com/smallbiznis/coinpulse/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var day = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	svc     statsdomain.Service
	rollups rollupdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := storetest.NewDB(t)
	log := zap.NewNop()
	events := eventrepo.Provide()
	rollups := rollupservice.NewService(rollupservice.ServiceParam{
		DB: conn, Log: log, Clock: clock.NewFakeClock(day), Repo: rolluprepo.Provide(), Events: events,
	})
	svc := service.NewService(service.ServiceParam{
		DB:       conn,
		Log:      log,
		Cfg:      config.Config{Ingest: config.IngestConfig{Timezone: "UTC"}},
		Machines: machinerepo.Provide(conn),
		Events:   events,
		Rollups:  rollups,
	})
	return &harness{db: conn, svc: svc, rollups: rollups}
}

// record inserts an event and refreshes the rollups of its day.
func (h *harness) record(t *testing.T, m *machinedomain.Machine, at time.Time, opts ...storetest.EventOption) *eventdomain.Event {
	t.Helper()
	e := storetest.InsertEvent(t, h.db, m, at, opts...)
	_, err := h.rollups.RecomputeDay(context.Background(), h.db, m.ID, e.Temporal.EventDate)
	require.NoError(t, err)
	return e
}

func ptr(t time.Time) *time.Time { return &t }

func TestDailyStatsRequiresRange(t *testing.T) {
	h := newHarness(t)
	storetest.SeedMachine(t, h.db, "M1")

	_, err := h.svc.DailyStats(context.Background(), statsdomain.Filter{Machine: "M1"})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidRange)

	_, err = h.svc.DailyStats(context.Background(), statsdomain.Filter{
		Machine: "M1",
		Start:   ptr(day.Add(48 * time.Hour)),
		End:     ptr(day),
	})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidRange)
}

func TestDailyStatsUnknownMachine(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.DailyStats(context.Background(), statsdomain.Filter{
		Machine: "NOPE",
		Start:   ptr(day),
		End:     ptr(day),
	})
	assert.ErrorIs(t, err, machinedomain.ErrMachineNotFound)
}

func TestDailyStatsScenario(t *testing.T) {
	h := newHarness(t)
	m := storetest.SeedMachine(t, h.db, "M1")
	h.record(t, m, day.Add(10*time.Hour))
	h.record(t, m, day.Add(10*time.Hour+15*time.Minute))
	h.record(t, m, day.Add(11*time.Hour))
	h.record(t, m, day.Add(26*time.Hour))

	f := statsdomain.Filter{Machine: "M1", Start: ptr(day), End: ptr(day)}
	stats, err := h.svc.DailyStats(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "2024-03-15", stats[0].Date)
	assert.Equal(t, int64(3), stats[0].EventCount)
	assert.Equal(t, "1.5000", stats[0].TotalRevenue.StringFixed(4))
	require.NotNil(t, stats[0].PeakHour)
	assert.Equal(t, 10, *stats[0].PeakHour)

	f.End = ptr(day.Add(24 * time.Hour))
	stats, err = h.svc.DailyStats(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "2024-03-16", stats[1].Date)
}

func TestHourlyProfile(t *testing.T) {
	h := newHarness(t)
	a := storetest.SeedMachine(t, h.db, "A", storetest.WithLocation("north", "Oslo"))
	b := storetest.SeedMachine(t, h.db, "B", storetest.WithLocation("north", "Oslo"))
	h.record(t, a, day.Add(9*time.Hour))
	h.record(t, a, day.Add(33*time.Hour))
	h.record(t, b, day.Add(9*time.Hour+30*time.Minute), storetest.WithValue("1.00"))
	h.record(t, b, day.Add(17*time.Hour))

	single, err := h.svc.HourlyProfile(context.Background(), statsdomain.Filter{Machine: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), single[9].EventCount)
	assert.Equal(t, "1.0000", single[9].Revenue.StringFixed(4))
	assert.Zero(t, single[17].EventCount)

	region, err := h.svc.HourlyProfile(context.Background(), statsdomain.Filter{Region: "north", Start: ptr(day), End: ptr(day)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), region[9].EventCount)
	assert.Equal(t, "1.5000", region[9].Revenue.StringFixed(4))
	assert.Equal(t, int64(1), region[17].EventCount)
	for hour, bucket := range region {
		assert.Equal(t, hour, bucket.Hour)
	}
}

func TestTopMachinesByRevenue(t *testing.T) {
	h := newHarness(t)
	a := storetest.SeedMachine(t, h.db, "A")
	b := storetest.SeedMachine(t, h.db, "B")
	c := storetest.SeedMachine(t, h.db, "C")
	h.record(t, a, day.Add(time.Hour), storetest.WithValue("2.00"))
	h.record(t, b, day.Add(time.Hour), storetest.WithValue("1.00"))
	h.record(t, b, day.Add(2*time.Hour), storetest.WithValue("1.00"))
	h.record(t, c, day.Add(time.Hour), storetest.WithValue("5.00"))

	top, err := h.svc.TopMachinesByRevenue(context.Background(), 0, statsdomain.Filter{})
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "C", top[0].MachineCode)
	// A and B tie on revenue; the lower id wins.
	assert.Equal(t, a.ID, top[1].MachineID)
	assert.Equal(t, b.ID, top[2].MachineID)
	assert.Equal(t, int64(2), top[2].EventCount)

	top, err = h.svc.TopMachinesByRevenue(context.Background(), 1, statsdomain.Filter{})
	require.NoError(t, err)
	require.Len(t, top, 1)

	_, err = h.svc.TopMachinesByRevenue(context.Background(), -1, statsdomain.Filter{})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidLimit)
}

func TestRegionTrend(t *testing.T) {
	h := newHarness(t)
	a := storetest.SeedMachine(t, h.db, "A", storetest.WithLocation("north", "Oslo"))
	b := storetest.SeedMachine(t, h.db, "B", storetest.WithLocation("north", "Bergen"))
	c := storetest.SeedMachine(t, h.db, "C", storetest.WithLocation("south", "Kristiansand"))
	h.record(t, a, day.Add(time.Hour), storetest.WithValue("1.00"))
	h.record(t, b, day.Add(time.Hour), storetest.WithValue("1.00"))
	h.record(t, b, day.Add(2*time.Hour), storetest.WithValue("0.50"))
	h.record(t, c, day.AddDate(0, 1, 0), storetest.WithValue("3.00"))

	rows, err := h.svc.RegionTrend(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "north", rows[0].Region)
	assert.Equal(t, 2024, rows[0].Year)
	assert.Equal(t, 3, rows[0].Month)
	assert.Equal(t, int64(3), rows[0].EventCount)
	assert.Equal(t, int64(2), rows[0].DistinctMachines)
	assert.Equal(t, "2.5000", rows[0].Revenue.StringFixed(4))
	assert.Equal(t, "1.2500", rows[0].RevenuePerMachine.StringFixed(4))

	assert.Equal(t, "south", rows[1].Region)
	assert.Equal(t, 4, rows[1].Month)

	rows, err = h.svc.RegionTrend(context.Background(), ptr(day), ptr(day.AddDate(0, 0, 7)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestEventsInRangePaginates(t *testing.T) {
	h := newHarness(t)
	m := storetest.SeedMachine(t, h.db, "M1")
	for i := 0; i < 5; i++ {
		storetest.InsertEvent(t, h.db, m, day.Add(time.Duration(i)*time.Hour))
	}
	storetest.InsertEvent(t, h.db, m, day.Add(6*time.Hour), storetest.SoftDeleted())

	q := statsdomain.EventsQuery{
		Filter:   statsdomain.Filter{Machine: m.ID.String(), Start: ptr(day), End: ptr(day.Add(24 * time.Hour))},
		PageSize: 2,
	}

	var seen []snowflake.ID
	for page := 0; page < 5; page++ {
		res, err := h.svc.EventsInRange(context.Background(), q)
		require.NoError(t, err)
		for _, e := range res.Events {
			seen = append(seen, e.ID)
		}
		if !res.HasMore {
			break
		}
		q.PageToken = res.NextPageToken
	}
	assert.Len(t, seen, 5)

	_, err := h.svc.EventsInRange(context.Background(), statsdomain.EventsQuery{PageToken: "%%%"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)

	_, err = h.svc.EventsInRange(context.Background(), statsdomain.EventsQuery{
		Filter: statsdomain.Filter{Start: ptr(day), End: ptr(day)},
	})
	assert.ErrorIs(t, err, statsdomain.ErrInvalidRange)
}

func TestLookupMachineIgnoresStatus(t *testing.T) {
	h := newHarness(t)
	m := storetest.SeedMachine(t, h.db, "OFF", storetest.WithStatus(machinedomain.StatusOffline), storetest.Inactive())

	got, err := h.svc.LookupMachine(context.Background(), m.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "OFF", got.Code)

	got, err = h.svc.LookupMachine(context.Background(), "OFF")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

// Rollup and raw event paths must agree for any event mix.
func TestDailyStatsPathsAgree(t *testing.T) {
	h := newHarness(t)
	faker := gofakeit.New(42)

	machines := []*machinedomain.Machine{
		storetest.SeedMachine(t, h.db, "A", storetest.WithLocation("north", "Oslo")),
		storetest.SeedMachine(t, h.db, "B", storetest.WithLocation("north", "Bergen")),
		storetest.SeedMachine(t, h.db, "C", storetest.WithLocation("south", "Kristiansand")),
	}
	expected := map[snowflake.ID]decimal.Decimal{}
	counts := map[snowflake.ID]int64{}

	for i := 0; i < 150; i++ {
		m := machines[faker.IntRange(0, len(machines)-1)]
		at := day.Add(time.Duration(faker.IntRange(0, 5*24*60-1)) * time.Minute)
		value := fmt.Sprintf("%d.%02d", faker.IntRange(0, 4), faker.IntRange(1, 99))
		opts := []storetest.EventOption{
			storetest.WithValue(value),
			storetest.WithPlay(faker.IntRange(0, 4), int64(faker.IntRange(0, 600))),
		}
		deleted := faker.IntRange(0, 9) == 0
		if deleted {
			opts = append(opts, storetest.SoftDeleted())
		}
		h.record(t, m, at, opts...)
		if !deleted {
			expected[m.ID] = expected[m.ID].Add(decimal.RequireFromString(value))
			counts[m.ID]++
		}
	}

	ctx := context.Background()
	for _, m := range machines {
		f := statsdomain.Filter{Machine: m.Code, Start: ptr(day), End: ptr(day.AddDate(0, 0, 5))}
		fromRollups, err := h.svc.DailyStats(ctx, f)
		require.NoError(t, err)
		fromEvents, err := h.svc.DailyStatsFromEvents(ctx, f)
		require.NoError(t, err)
		require.Len(t, fromRollups, len(fromEvents), m.Code)

		var total decimal.Decimal
		var events int64
		for i := range fromRollups {
			r, e := fromRollups[i], fromEvents[i]
			assert.Equal(t, e.Date, r.Date)
			assert.Equal(t, e.EventCount, r.EventCount)
			assert.True(t, e.TotalRevenue.Equal(r.TotalRevenue), "%s %s", m.Code, r.Date)
			assert.Equal(t, e.TotalPlayTimeSeconds, r.TotalPlayTimeSeconds)
			assert.True(t, e.AveragePlayers.Equal(r.AveragePlayers))
			assert.True(t, e.AverageDurationSeconds.Equal(r.AverageDurationSeconds))
			assert.Equal(t, e.PeakHour, r.PeakHour)
			total = total.Add(r.TotalRevenue)
			events += r.EventCount
		}
		assert.True(t, expected[m.ID].Equal(total), "%s: %s != %s", m.Code, expected[m.ID], total)
		assert.Equal(t, counts[m.ID], events)
	}
}

func TestStatsIncludeUnprocessedEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := storetest.SeedMachine(t, h.db, "M1")

	h.record(t, m, day.Add(10*time.Hour), storetest.WithValue("0.5"))
	pending := storetest.InsertEvent(t, h.db, m, day.Add(11*time.Hour), storetest.WithValue("0.5"), storetest.Unprocessed())

	f := statsdomain.Filter{Machine: "M1", Start: ptr(day), End: ptr(day)}
	assertAgree := func(t *testing.T) {
		t.Helper()
		daily, err := h.svc.DailyStats(ctx, f)
		require.NoError(t, err)
		fromEvents, err := h.svc.DailyStatsFromEvents(ctx, f)
		require.NoError(t, err)
		require.Len(t, daily, 1)
		require.Len(t, fromEvents, 1)
		assert.Equal(t, fromEvents[0].EventCount, daily[0].EventCount)
		assert.True(t, fromEvents[0].TotalRevenue.Equal(daily[0].TotalRevenue))
		assert.Equal(t, fromEvents[0].PeakHour, daily[0].PeakHour)
		assert.Equal(t, int64(2), daily[0].EventCount)
		assert.Equal(t, "1.0000", daily[0].TotalRevenue.StringFixed(4))

		hourly, err := h.svc.HourlyProfile(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, int64(1), hourly[10].EventCount)
		assert.Equal(t, int64(1), hourly[11].EventCount)
		assert.Equal(t, "0.5000", hourly[11].Revenue.StringFixed(4))
	}

	t.Run("pending", assertAgree)

	_, err := h.rollups.RecomputeDay(ctx, h.db, m.ID, pending.Temporal.EventDate)
	require.NoError(t, err)
	require.NoError(t, eventrepo.Provide().MarkProcessed(ctx, h.db, pending.ID))

	t.Run("processed", assertAgree)
}
