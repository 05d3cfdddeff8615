package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/neurogame/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8000")
			convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 500)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
			convey.So(cfg.LeaderboardDefaultLimit, convey.ShouldEqual, 100)
			convey.So(cfg.LeaderboardDefaultMinTasks, convey.ShouldEqual, 30)
			convey.So(cfg.ExportMaxLimit, convey.ShouldEqual, 5000)
			convey.So(cfg.Permutations, convey.ShouldEqual, 10_000)
			convey.So(cfg.MinSessions, convey.ShouldEqual, 5)
			convey.So(cfg.Seed, convey.ShouldEqual, 42)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then durations are derived from millisecond fields", func() {
			convey.So(cfg.FlushInterval(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.SendTimeout(), convey.ShouldEqual, 2500*time.Millisecond)
			convey.So(cfg.BackoffMax(), convey.ShouldEqual, time.Minute)
			convey.So(cfg.QueueMaxRetention(), convey.ShouldEqual, 0)
			convey.So(cfg.DedupeTTL(), convey.ShouldEqual, 10*time.Minute)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with invalid fields", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":       func(c *config.Config) { c.Addr = " " },
			"empty api key":    func(c *config.Config) { c.APIKey = "" },
			"zero batch":       func(c *config.Config) { c.MaxBatchSize = 0 },
			"jitter above one": func(c *config.Config) { c.BackoffJitter = 1.5 },
			"unknown driver":   func(c *config.Config) { c.StoreDriver = "mongo" },
			"postgres no dsn":  func(c *config.Config) { c.StoreDriver = config.DriverPostgres },
			"sqlite no path":   func(c *config.Config) { c.StorePath = "" },
			"zero min groups":  func(c *config.Config) { c.MinSessions = 0 },
			"unknown metric":   func(c *config.Config) { c.CompareMetrics = []string{"accuracy", "speed"} },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			convey.Convey("Then "+name+" is rejected", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("Then the memory driver needs no path", func() {
			cfg := config.New()
			cfg.StoreDriver = config.DriverMemory
			cfg.StorePath = ""
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
