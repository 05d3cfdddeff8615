package leaderboard_test

import (
	"math/rand/v2"
	"testing"

	"github.com/okian/neurogame/internal/domain/leaderboard"
	"github.com/okian/neurogame/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func ptr(v int) *int { return &v }

func TestNormalize(t *testing.T) {
	Convey("Given raw leaderboard parameters", t, func() {
		def := func(limit, minTasks *int) leaderboard.Query {
			return leaderboard.Normalize(limit, minTasks, leaderboard.DefaultLimit, leaderboard.MaxLimit, leaderboard.DefaultMinTasks)
		}

		Convey("Then missing values take the defaults", func() {
			So(def(nil, nil), ShouldResemble, leaderboard.Query{Limit: 100, MinTasks: 30})
		})
		Convey("Then limit is clamped into range", func() {
			So(def(ptr(0), nil).Limit, ShouldEqual, 1)
			So(def(ptr(-4), nil).Limit, ShouldEqual, 1)
			So(def(ptr(9000), nil).Limit, ShouldEqual, 500)
			So(def(ptr(25), nil).Limit, ShouldEqual, 25)
		})
		Convey("Then min_tasks never goes negative", func() {
			So(def(nil, ptr(-3)).MinTasks, ShouldEqual, 0)
			So(def(nil, ptr(0)).MinTasks, ShouldEqual, 0)
		})
	})
}

func TestRank(t *testing.T) {
	Convey("Given user totals", t, func() {
		totals := []types.UserTotals{
			{UserID: "carol", Correct: 9, Tasks: 10},
			{UserID: "alice", Correct: 18, Tasks: 20},
			{UserID: "bob", Correct: 18, Tasks: 20},
			{UserID: "dave", Correct: 10, Tasks: 10},
			{UserID: "erin", Correct: 2, Tasks: 3},
		}

		Convey("When ranking with a task floor", func() {
			rows := leaderboard.Rank(totals, leaderboard.Query{Limit: 10, MinTasks: 5})

			Convey("Then users below the floor are excluded", func() {
				So(rows, ShouldHaveLength, 4)
			})

			Convey("Then accuracy, tasks and user id order the rest", func() {
				ids := make([]string, len(rows))
				for i, r := range rows {
					ids[i] = r.UserID
				}
				So(ids, ShouldResemble, []string{"dave", "alice", "bob", "carol"})
				So(rows[0].Rank, ShouldEqual, 1)
				So(rows[3].Rank, ShouldEqual, 4)
				So(rows[1].Accuracy, ShouldEqual, 0.9)
				So(rows[1].Tasks, ShouldEqual, 20)
			})
		})

		Convey("When the limit is smaller than the eligible set", func() {
			rows := leaderboard.Rank(totals, leaderboard.Query{Limit: 2, MinTasks: 0})

			Convey("Then only the top rows are returned", func() {
				So(rows, ShouldHaveLength, 2)
				So(rows[0].UserID, ShouldEqual, "dave")
			})
		})

		Convey("When the input order is shuffled", func() {
			want := leaderboard.Rank(totals, leaderboard.Query{Limit: 10, MinTasks: 0})
			r := rand.New(rand.NewPCG(1, 2))
			stable := true
			for i := 0; i < 20; i++ {
				shuffled := append([]types.UserTotals(nil), totals...)
				r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
				got := leaderboard.Rank(shuffled, leaderboard.Query{Limit: 10, MinTasks: 0})
				for j := range want {
					if got[j] != want[j] {
						stable = false
					}
				}
			}

			Convey("Then the output is identical", func() {
				So(stable, ShouldBeTrue)
			})
		})

		Convey("When nobody qualifies", func() {
			rows := leaderboard.Rank(totals, leaderboard.Query{Limit: 10, MinTasks: 100})

			Convey("Then the result is empty, not nil-dangerous", func() {
				So(rows, ShouldBeEmpty)
			})
		})
	})
}
