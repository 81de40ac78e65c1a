// Command thermitebench is the minimal host-language binding the core
// engine spec treats as an external collaborator (SPEC_FULL §1): it builds
// an Index, loads synthetic records, runs a handful of compound queries,
// and reports timing — enough to prove the library works outside of tests.
//
// Flag handling and logger construction follow cmd/bulk-delete/main.go's
// shape: flag.Int/flag.Parse, a zap development logger with stack traces
// and the caller annotation stripped for readable CLI output.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/davecgh/go-spew/spew"

	"github.com/tylerrobbins5678/thermite/index"
	"github.com/tylerrobbins5678/thermite/internal/reflectindex"
	"github.com/tylerrobbins5678/thermite/pkg/fmtt"
	"github.com/tylerrobbins5678/thermite/pkg/traceid"
	"github.com/tylerrobbins5678/thermite/query"
	"github.com/tylerrobbins5678/thermite/value"
)

// widget is a synthetic record: a handful of plain scalar attributes.
type widget struct {
	Name  string `thermite:"name"`
	SKU   string `thermite:"sku"`
	Price int64  `thermite:"price"`
	Stock int64  `thermite:"stock"`
}

func main() {
	n := flag.Int("n", 10_000, "number of synthetic widgets to load")
	seed := flag.Int64("seed", 1, "PRNG seed for synthetic data")
	runID := flag.String("run-id", "", "correlation id for this run's log lines (generated if absent)")
	flag.Parse()

	log := buildLogger().With(zap.String("run_id", traceid.OrNew(*runID)))
	defer log.Sync()

	ix := index.New(log)
	rng := rand.New(rand.NewSource(*seed))

	start := time.Now()
	widgets := make([]*reflectindex.Object, 0, *n)
	for i := 0; i < *n; i++ {
		w := &widget{
			Name:  fmt.Sprintf("widget-%d", i),
			SKU:   fmt.Sprintf("SKU-%06d", i),
			Price: int64(rng.Intn(10_000)),
			Stock: int64(rng.Intn(500)),
		}
		widgets = append(widgets, reflectindex.Wrap(w))
	}
	ids, err := index.AddObjectMany(ix, widgets, index.WithDefault("stock", value.Int(0)))
	if err != nil {
		log.Error("bulk load failed", zap.Error(err))
		fmtt.PrintErrChain(err)
		os.Exit(1)
	}
	log.Info("loaded synthetic widgets",
		zap.Int("count", len(ids)),
		zap.Duration("took", time.Since(start)),
	)

	runQuery(log, ix, "cheap in-stock widgets",
		query.And(
			query.Lt("price", value.Int(1_000)),
			query.Gt("stock", value.Int(0)),
		),
	)

	runQuery(log, ix, "mid-priced or out-of-stock widgets",
		query.Or(
			query.Between("price", value.Int(1_000), value.Int(5_000), true, true),
			query.Eq("stock", value.Int(0)),
		),
	)

	groups := ix.GroupBy("price")
	log.Info("grouped by price", zap.Int("distinct_values", len(groups)))

	if len(ids) > 0 {
		sample := ix.Reduced(query.Eq("name", value.Str("widget-0"))).Collect()
		if len(sample) > 0 {
			spew.Dump(sample[0].GetRaw("sku"))
		}
	}
}

func runQuery(log *zap.Logger, ix *index.Index, label string, expr query.Expr) {
	start := time.Now()
	matches := ix.ReducedQuery(expr).Collect()
	log.Info(label,
		zap.String("query", expr.String()),
		zap.Int("matches", len(matches)),
		zap.Duration("took", time.Since(start)),
	)
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.InfoLevel)
	return zap.Must(logConfig.Build())
}
