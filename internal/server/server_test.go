package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/coinpulse/internal/clock"
	"github.com/smallbiznis/coinpulse/internal/config"
	counterrepo "github.com/smallbiznis/coinpulse/internal/counter/repository"
	counterservice "github.com/smallbiznis/coinpulse/internal/counter/service"
	eventdomain "github.com/smallbiznis/coinpulse/internal/event/domain"
	eventrepo "github.com/smallbiznis/coinpulse/internal/event/repository"
	ingestdomain "github.com/smallbiznis/coinpulse/internal/ingest/domain"
	ingestservice "github.com/smallbiznis/coinpulse/internal/ingest/service"
	"github.com/smallbiznis/coinpulse/internal/keylock"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	machinerepo "github.com/smallbiznis/coinpulse/internal/machine/repository"
	machineservice "github.com/smallbiznis/coinpulse/internal/machine/service"
	"github.com/smallbiznis/coinpulse/internal/observability"
	"github.com/smallbiznis/coinpulse/internal/ratelimit"
	rolluprepo "github.com/smallbiznis/coinpulse/internal/rollup/repository"
	rollupservice "github.com/smallbiznis/coinpulse/internal/rollup/service"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
	statsservice "github.com/smallbiznis/coinpulse/internal/stats/service"
	"github.com/smallbiznis/coinpulse/internal/storetest"
	"github.com/smallbiznis/coinpulse/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var day = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

type testServer struct {
	db     *gorm.DB
	server *Server
}

func newTestServer(t *testing.T, limiter *ratelimit.MachineIngestLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := storetest.NewDB(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(day.Add(20 * time.Hour))
	cfg := config.Config{Ingest: config.IngestConfig{
		Timezone:          "UTC",
		BatchConcurrency:  2,
		BatchMaxItems:     10,
		RollupMaxAttempts: 3,
	}}

	events := eventrepo.Provide()
	machines := machinerepo.Provide(conn)
	counters := counterservice.NewService(counterservice.ServiceParam{
		DB: conn, Log: log, Clock: clk, Repo: counterrepo.Provide(), Events: events,
	})
	rollups := rollupservice.NewService(rollupservice.ServiceParam{
		DB: conn, Log: log, Clock: clk, Repo: rolluprepo.Provide(), Events: events,
	})
	ingest := ingestservice.NewService(ingestservice.ServiceParam{
		DB:       conn,
		Log:      log,
		Cfg:      cfg,
		GenID:    storetest.Node(),
		Clock:    clk,
		Resolver: machineservice.NewResolver(machineservice.ResolverParams{Repo: machines, Cfg: cfg, Log: log}),
		Events:   events,
		Counters: counters,
		Rollups:  rollups,
		Locker:   keylock.NewLocal(),
	})
	stats := statsservice.NewService(statsservice.ServiceParam{
		DB: conn, Log: log, Cfg: cfg, Machines: machines, Events: events, Rollups: rollups,
	})

	srv := NewServer(ServerParams{
		Gin:        NewEngine(observability.Config{}, nil),
		Cfg:        cfg,
		Log:        log,
		IngestSvc:  ingest,
		StatsSvc:   stats,
		CounterSvc: counters,
		Limiter:    limiter,
	})
	return &testServer{db: conn, server: srv}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

type recordResponse struct {
	Event struct {
		ID          string          `json:"id"`
		Value       decimal.Decimal `json:"value"`
		Processed   bool            `json:"processed"`
		SoftDeleted bool            `json:"soft_deleted"`
		OriginIP    string          `json:"origin_ip"`
	} `json:"event"`
	Counters struct {
		TotalEvents  int64           `json:"total_events"`
		TotalRevenue decimal.Decimal `json:"total_revenue"`
	} `json:"counters"`
	Warning *ingestdomain.PartialProcessingError `json:"warning"`
}

type errorBody struct {
	Error struct {
		Type   string            `json:"type"`
		Code   string            `json:"code"`
		Errors []ValidationError `json:"errors"`
	} `json:"error"`
}

func eventBody(machineCode, value string, at time.Time) string {
	return fmt.Sprintf(`{"machine_code":%q,"value":%q,"occurred_at":%q,"players":2,"duration_seconds":90}`,
		machineCode, value, at.Format(time.RFC3339))
}

func TestRecordEventReturnsCreatedWithCounters(t *testing.T) {
	ts := newTestServer(t, nil)
	storetest.SeedMachine(t, ts.db, "M-1")

	resp := ts.do(t, http.MethodPost, "/v1/events", eventBody("M-1", "1.50", day.Add(10*time.Hour)))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	out := decode[recordResponse](t, resp)
	assert.NotEmpty(t, out.Event.ID)
	assert.True(t, out.Event.Processed)
	assert.True(t, out.Event.Value.Equal(decimal.RequireFromString("1.5")))
	assert.NotEmpty(t, out.Event.OriginIP)
	assert.Nil(t, out.Warning)
	assert.Equal(t, int64(1), out.Counters.TotalEvents)
	assert.True(t, out.Counters.TotalRevenue.Equal(decimal.RequireFromString("1.5")))

	resp = ts.do(t, http.MethodGet, "/v1/machines/M-1/counters", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	counters := decode[struct {
		MachineCode string `json:"machine_code"`
		Counters    struct {
			TotalEvents          int64 `json:"total_events"`
			TotalPlayTimeSeconds int64 `json:"total_play_time_seconds"`
		} `json:"counters"`
	}](t, resp)
	assert.Equal(t, "M-1", counters.MachineCode)
	assert.Equal(t, int64(1), counters.Counters.TotalEvents)
	assert.Equal(t, int64(90), counters.Counters.TotalPlayTimeSeconds)
}

func TestRecordEventErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	storetest.SeedMachine(t, ts.db, "M-1")
	storetest.SeedMachine(t, ts.db, "M-OFF", storetest.WithStatus(machinedomain.StatusMaintenance))

	at := day.Add(10 * time.Hour)
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"machine_code":`, http.StatusBadRequest, "invalid_request"},
		{"missing machine", fmt.Sprintf(`{"value":"1","occurred_at":%q}`, at.Format(time.RFC3339)), http.StatusBadRequest, "invalid_machine"},
		{"negative value", eventBody("M-1", "-1", at), http.StatusBadRequest, "invalid_value"},
		{"too many decimals", eventBody("M-1", "1.00001", at), http.StatusBadRequest, "invalid_value"},
		{"future occurred_at", eventBody("M-1", "1", day.Add(48*time.Hour)), http.StatusBadRequest, "invalid_occurred_at"},
		{"unknown machine", eventBody("M-404", "1", at), http.StatusNotFound, "machine_not_found"},
		{"not operational", eventBody("M-OFF", "1", at), http.StatusForbidden, "machine_not_operational"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/v1/events", tc.body)
			require.Equal(t, tc.status, resp.Code, resp.Body.String())

			out := decode[errorBody](t, resp)
			code := out.Error.Code
			if code == "" && len(out.Error.Errors) > 0 {
				code = out.Error.Errors[0].Code
			}
			assert.Equal(t, tc.code, code)
		})
	}

	var count int64
	require.NoError(t, ts.db.Model(&eventdomain.Event{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordEventsReportsPerItemOutcome(t *testing.T) {
	ts := newTestServer(t, nil)
	storetest.SeedMachine(t, ts.db, "M-1")

	at := day.Add(9 * time.Hour)
	body := fmt.Sprintf(`{"events":[%s,%s]}`, eventBody("M-1", "2", at), eventBody("M-1", "0", at))
	resp := ts.do(t, http.MethodPost, "/v1/events/batch", body)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	out := decode[ingestdomain.BatchResult](t, resp)
	assert.NotEmpty(t, out.BatchID)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Items, 2)
	assert.Equal(t, ingestdomain.ItemSucceeded, out.Items[0].Status)
	require.NotNil(t, out.Items[1].Error)
	assert.Equal(t, "invalid_value", out.Items[1].Error.Code)

	resp = ts.do(t, http.MethodPost, "/v1/events/batch", `{"events":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeleteEventRemovesItFromCounters(t *testing.T) {
	ts := newTestServer(t, nil)
	storetest.SeedMachine(t, ts.db, "M-1")

	resp := ts.do(t, http.MethodPost, "/v1/events", eventBody("M-1", "3", day.Add(8*time.Hour)))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decode[recordResponse](t, resp)

	resp = ts.do(t, http.MethodDelete, "/v1/events/"+created.Event.ID, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	deleted := decode[struct {
		Event struct {
			SoftDeleted bool `json:"soft_deleted"`
		} `json:"event"`
	}](t, resp)
	assert.True(t, deleted.Event.SoftDeleted)

	resp = ts.do(t, http.MethodGet, "/v1/machines/M-1/counters", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"total_events":0`)

	resp = ts.do(t, http.MethodDelete, "/v1/events/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(t, http.MethodDelete, "/v1/events/"+storetest.Node().Generate().String(), "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestReprocessEvent(t *testing.T) {
	ts := newTestServer(t, nil)
	m := storetest.SeedMachine(t, ts.db, "M-1")
	e := storetest.InsertEvent(t, ts.db, m, day.Add(7*time.Hour), storetest.WithValue("4"))

	resp := ts.do(t, http.MethodPost, "/v1/events/"+e.ID.String()+"/reprocess", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	out := decode[recordResponse](t, resp)
	assert.Equal(t, int64(1), out.Counters.TotalEvents)
	assert.True(t, out.Counters.TotalRevenue.Equal(decimal.NewFromInt(4)))
}

func TestListEventsPaginates(t *testing.T) {
	ts := newTestServer(t, nil)
	m := storetest.SeedMachine(t, ts.db, "M-1")
	for i := 0; i < 3; i++ {
		storetest.InsertEvent(t, ts.db, m, day.Add(time.Duration(i+1)*time.Hour))
	}
	storetest.InsertEvent(t, ts.db, m, day.Add(24*time.Hour))

	type page struct {
		NextPageToken string `json:"next_page_token"`
		HasMore       bool   `json:"has_more"`
		Events        []struct {
			ID string `json:"id"`
		} `json:"events"`
	}

	resp := ts.do(t, http.MethodGet, "/v1/events?machine=M-1&start=2024-03-15&end=2024-03-15&limit=2", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	first := decode[page](t, resp)
	assert.Len(t, first.Events, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	resp = ts.do(t, http.MethodGet, "/v1/events?machine=M-1&start=2024-03-15&end=2024-03-15&limit=2&page_token="+first.NextPageToken, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	second := decode[page](t, resp)
	assert.Len(t, second.Events, 1)
	assert.False(t, second.HasMore)

	resp = ts.do(t, http.MethodGet, "/v1/events?page_token=garbage", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(t, http.MethodGet, "/v1/events?start=2024-03-16T00:00:00Z&end=2024-03-15T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatsEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	storetest.SeedMachine(t, ts.db, "M-1")
	storetest.SeedMachine(t, ts.db, "M-2", storetest.WithLocation("south", "Bergen"))

	for _, body := range []string{
		eventBody("M-1", "1.50", day.Add(10*time.Hour)),
		eventBody("M-1", "2.50", day.Add(10*time.Hour+30*time.Minute)),
		eventBody("M-2", "1", day.Add(14*time.Hour)),
	} {
		resp := ts.do(t, http.MethodPost, "/v1/events", body)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	t.Run("daily requires a range", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/stats/daily?machine=M-1", "")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("daily", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/stats/daily?machine=M-1&start=2024-03-15&end=2024-03-15", "")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		out := decode[struct {
			Data []struct {
				Date         string          `json:"date"`
				EventCount   int64           `json:"event_count"`
				TotalRevenue decimal.Decimal `json:"total_revenue"`
			} `json:"data"`
		}](t, resp)
		require.Len(t, out.Data, 1)
		assert.Equal(t, "2024-03-15", out.Data[0].Date)
		assert.Equal(t, int64(2), out.Data[0].EventCount)
		assert.True(t, out.Data[0].TotalRevenue.Equal(decimal.NewFromInt(4)))
	})

	t.Run("hourly", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/stats/hourly?machine=M-1&start=2024-03-15&end=2024-03-15", "")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		out := decode[struct {
			Data []statsdomain.HourBucket `json:"data"`
		}](t, resp)
		require.Len(t, out.Data, 24)
		assert.Equal(t, int64(2), out.Data[10].EventCount)
		assert.Zero(t, out.Data[14].EventCount)
	})

	t.Run("top", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/stats/top?n=1&start=2024-03-15&end=2024-03-15", "")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		out := decode[struct {
			Data []statsdomain.TopMachine `json:"data"`
		}](t, resp)
		require.Len(t, out.Data, 1)
		assert.Equal(t, "M-1", out.Data[0].MachineCode)

		resp = ts.do(t, http.MethodGet, "/v1/stats/top?n=-1", "")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("regions", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/stats/regions?start=2024-03-01&end=2024-03-31", "")
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		out := decode[struct {
			Data []statsdomain.RegionTrend `json:"data"`
		}](t, resp)
		require.Len(t, out.Data, 2)
	})

	t.Run("unknown machine", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/v1/machines/M-404/counters", "")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestMachineIngestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewMachineIngestLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:      true,
		MachineRate:  0.5,
		MachineBurst: 1,
	}}, client)
	require.NoError(t, err)

	ts := newTestServer(t, limiter)
	storetest.SeedMachine(t, ts.db, "M-1")
	storetest.SeedMachine(t, ts.db, "M-2")

	at := day.Add(10 * time.Hour)
	resp := ts.do(t, http.MethodPost, "/v1/events", eventBody("M-1", "1", at))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = ts.do(t, http.MethodPost, "/v1/events", eventBody("M-1", "1", at))
	require.Equal(t, http.StatusTooManyRequests, resp.Code, resp.Body.String())
	assert.Equal(t, "2", resp.Header().Get("Retry-After"))
	assert.Equal(t, rateLimitReasonMachineRate, resp.Header().Get("X-Rate-Limited-Reason"))

	resp = ts.do(t, http.MethodPost, "/v1/events", eventBody("M-2", "1", at))
	assert.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ingestdomain.ErrInvalidPlayers, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", machinedomain.ErrInvalidMachine), http.StatusBadRequest},
		{pagination.ErrInvalidPageToken, http.StatusBadRequest},
		{statsdomain.ErrInvalidRange, http.StatusBadRequest},
		{machinedomain.ErrMachineNotFound, http.StatusNotFound},
		{eventdomain.ErrEventNotFound, http.StatusNotFound},
		{machinedomain.ErrMachineNotOperational, http.StatusForbidden},
		{fmt.Errorf("%w: %w", ingestdomain.ErrConflict, errors.New("busy")), http.StatusConflict},
		{ErrRateLimited, http.StatusTooManyRequests},
		{machinedomain.ErrMachineLookupTimeout, http.StatusServiceUnavailable},
		{&ingestdomain.PartialProcessingError{Stage: ingestdomain.StageRollup, Err: errors.New("disk full")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		status, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}

	errType, code := classifyErrorForLog(ingestdomain.ErrInvalidPlayers)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "invalid_players", code)

	errType, code = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal_error", errType)
	assert.Equal(t, "internal_error", code)
}

func TestParseOptionalTime(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)

	got, err := parseOptionalTime("2024-03-15", oslo, true, instantRange)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, oslo)))

	got, err = parseOptionalTime("2024-03-15", oslo, true, dayRange)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, oslo)))

	got, err = parseOptionalTime("2024-03-15T10:00:00Z", oslo, false, instantRange)
	require.NoError(t, err)
	assert.True(t, got.Equal(day.Add(10*time.Hour)))

	got, err = parseOptionalTime(" ", oslo, false, instantRange)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseOptionalTime("yesterday", oslo, false, instantRange)
	assert.Error(t, err)
}
