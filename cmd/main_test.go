package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/neurogame/internal/adapters/repository"
	"github.com/okian/neurogame/internal/config"
	"github.com/okian/neurogame/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	convey.Convey("Given server settings in the environment", t, func() {
		t.Setenv("NEUROGAME_ADDR", ":9090")
		t.Setenv("NEUROGAME_STORE_DRIVER", "memory")
		t.Setenv("NEUROGAME_MAX_BATCH_SIZE", "50")
		t.Setenv("NEUROGAME_API_KEY", "k")

		convey.Convey("Then Load picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 50)
		})
	})

	convey.Convey("Given an unknown store driver", t, func() {
		t.Setenv("NEUROGAME_STORE_DRIVER", "redis")

		convey.Convey("Then Load fails", func() {
			_, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestServerWiring(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given the server assembled from configuration", t, func() {
		cfg := config.New()
		cfg.APIKey = "wired-key"
		cfg.MaxBatchSize = 2
		cfg.StoreDriver = config.DriverSQLite
		cfg.StorePath = filepath.Join(t.TempDir(), "telemetry.db")

		store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StorePath, cfg.PostgresDSN)
		convey.So(err, convey.ShouldBeNil)
		svc := newService(cfg, store, logger.Get())
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		ts := httptest.NewServer(newMux(ctx, cfg, svc, logger.Get()))
		defer ts.Close()

		post := func(body string) *http.Response {
			resp, err := ts.Client().Post(ts.URL+"/v1/events", "application/json", bytes.NewBufferString(body))
			convey.So(err, convey.ShouldBeNil)
			return resp
		}

		convey.Convey("Then health and docs answer", func() {
			for _, path := range []string{"/health", "/ready", "/openapi.yaml", "/api-docs", "/metrics"} {
				resp, err := ts.Client().Get(ts.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then the configured key and batch limit apply", func() {
			ev := `{"event_id":"e1","event_type":"task_result","event_ts":"2026-01-01T00:00:00Z","user_id":"u","session_id":"s","payload":{"correct":true,"rt_ms":300}}`

			resp := post(`{"api_key":"wired-key","client_version":"t","events":[` + ev + `]}`)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			resp = post(`{"api_key":"other","events":[` + ev + `]}`)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusUnauthorized)

			resp = post(`{"api_key":"wired-key","events":[` + ev + `,` + ev + `,` + ev + `]}`)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusBadRequest)

			resp, err := ts.Client().Get(ts.URL + "/v1/leaderboard?min_tasks=1")
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()
			var lb struct {
				Rows []struct {
					UserID string `json:"user_id"`
					Tasks  int    `json:"tasks"`
				} `json:"rows"`
			}
			convey.So(json.NewDecoder(resp.Body).Decode(&lb), convey.ShouldBeNil)
			convey.So(len(lb.Rows), convey.ShouldEqual, 1)
			convey.So(lb.Rows[0].Tasks, convey.ShouldEqual, 1)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metric updaters", t, func() {
		convey.Convey("Then a system update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the updaters return once the context ends", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				svc := newService(config.New(), repository.NewMemoryStore(), logger.Get())
				startServiceMetricsUpdater(ctx, svc)
				close(done)
			}()
			<-done
			convey.So(true, convey.ShouldBeTrue)
		})
	})
}

func TestMain(m *testing.M) {
	_ = os.Unsetenv(config.EnvConfigFile)
	os.Exit(m.Run())
}
