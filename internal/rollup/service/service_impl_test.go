package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/coinpulse/internal/clock"
	eventrepo "github.com/smallbiznis/coinpulse/internal/event/repository"
	rollupdomain "github.com/smallbiznis/coinpulse/internal/rollup/domain"
	rolluprepo "github.com/smallbiznis/coinpulse/internal/rollup/repository"
	"github.com/smallbiznis/coinpulse/internal/rollup/service"
	"github.com/smallbiznis/coinpulse/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var day = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func newService(conn *gorm.DB) rollupdomain.Service {
	return service.NewService(service.ServiceParam{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  clock.NewFakeClock(day),
		Repo:   rolluprepo.Provide(),
		Events: eventrepo.Provide(),
	})
}

func TestRecomputeDayScenario(t *testing.T) {
	ctx := context.Background()
	conn := storetest.NewDB(t)
	svc := newService(conn)
	m := storetest.SeedMachine(t, conn, "M1")

	storetest.InsertEvent(t, conn, m, day.Add(10*time.Hour))
	storetest.InsertEvent(t, conn, m, day.Add(10*time.Hour+15*time.Minute))
	storetest.InsertEvent(t, conn, m, day.Add(11*time.Hour))

	daily, err := svc.RecomputeDay(ctx, conn, m.ID, "2024-03-15")
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, int64(3), daily.EventCount)
	assert.Equal(t, "1.5000", daily.TotalRevenue.StringFixed(4))
	require.NotNil(t, daily.PeakHour)
	assert.Equal(t, 10, *daily.PeakHour)

	hourly, err := svc.ListHourly(ctx, rollupdomain.Range{MachineID: m.ID, FromDate: "2024-03-15", ToDate: "2024-03-15"})
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.Equal(t, 10, hourly[0].Hour)
	assert.Equal(t, int64(2), hourly[0].EventCount)
	assert.Equal(t, "1.0000", hourly[0].Revenue.StringFixed(4))
	assert.Equal(t, 11, hourly[1].Hour)
	assert.Equal(t, int64(1), hourly[1].EventCount)
	assert.Equal(t, "0.5000", hourly[1].Revenue.StringFixed(4))
}

func TestRecomputeDayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := storetest.NewDB(t)
	svc := newService(conn)
	m := storetest.SeedMachine(t, conn, "M1")

	storetest.InsertEvent(t, conn, m, day.Add(8*time.Hour), storetest.WithPlay(2, 90))
	storetest.InsertEvent(t, conn, m, day.Add(9*time.Hour), storetest.WithPlay(1, 30))

	for i := 0; i < 3; i++ {
		_, err := svc.RecomputeDay(ctx, conn, m.ID, "2024-03-15")
		require.NoError(t, err)
	}

	var dailyCount, hourlyCount int64
	require.NoError(t, conn.Model(&rollupdomain.DailyRollup{}).Count(&dailyCount).Error)
	require.NoError(t, conn.Model(&rollupdomain.HourlyRollup{}).Count(&hourlyCount).Error)
	assert.Equal(t, int64(1), dailyCount)
	assert.Equal(t, int64(2), hourlyCount)

	rows, err := svc.ListDaily(ctx, rollupdomain.Range{MachineID: m.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].EventCount)
	assert.Equal(t, "1.0000", rows[0].TotalRevenue.StringFixed(4))
	assert.Equal(t, int64(120), rows[0].TotalPlayTimeSeconds)
	assert.Equal(t, "1.5000", rows[0].AveragePlayers.StringFixed(4))
	assert.Equal(t, "60.0000", rows[0].AverageDurationSeconds.StringFixed(4))
}

func TestRecomputeDayDropsEmptyKeys(t *testing.T) {
	ctx := context.Background()
	conn := storetest.NewDB(t)
	svc := newService(conn)
	m := storetest.SeedMachine(t, conn, "M1")

	e1 := storetest.InsertEvent(t, conn, m, day.Add(10*time.Hour))
	e2 := storetest.InsertEvent(t, conn, m, day.Add(14*time.Hour))
	_, err := svc.RecomputeDay(ctx, conn, m.ID, "2024-03-15")
	require.NoError(t, err)

	require.NoError(t, conn.Exec("UPDATE events SET soft_deleted = ? WHERE id = ?", true, e2.ID).Error)
	daily, err := svc.RecomputeDay(ctx, conn, m.ID, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.EventCount)

	hourly, err := svc.ListHourly(ctx, rollupdomain.Range{MachineID: m.ID})
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, 10, hourly[0].Hour)

	require.NoError(t, conn.Exec("UPDATE events SET soft_deleted = ? WHERE id = ?", true, e1.ID).Error)
	daily, err = svc.RecomputeDay(ctx, conn, m.ID, "2024-03-15")
	require.NoError(t, err)
	assert.Nil(t, daily)

	rows, err := svc.ListDaily(ctx, rollupdomain.Range{MachineID: m.ID})
	require.NoError(t, err)
	assert.Empty(t, rows)
	hourly, err = svc.ListHourly(ctx, rollupdomain.Range{MachineID: m.ID})
	require.NoError(t, err)
	assert.Empty(t, hourly)
}

func TestRecomputeDayIgnoresOtherDaysAndMachines(t *testing.T) {
	ctx := context.Background()
	conn := storetest.NewDB(t)
	svc := newService(conn)
	m := storetest.SeedMachine(t, conn, "M1")
	other := storetest.SeedMachine(t, conn, "M2")

	storetest.InsertEvent(t, conn, m, day.Add(23*time.Hour+59*time.Minute))
	storetest.InsertEvent(t, conn, m, day.Add(24*time.Hour))
	storetest.InsertEvent(t, conn, other, day.Add(12*time.Hour))

	daily, err := svc.RecomputeDay(ctx, conn, m.ID, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.EventCount)
	assert.Equal(t, 23, *daily.PeakHour)
}

func TestRecomputeDayRejectsBadDate(t *testing.T) {
	conn := storetest.NewDB(t)
	svc := newService(conn)
	m := storetest.SeedMachine(t, conn, "M1")

	_, err := svc.RecomputeDay(context.Background(), conn, m.ID, "15/03/2024")
	assert.Error(t, err)
}
