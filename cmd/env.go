package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/store"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

// appEnv holds the store and engine shared by every plan command.
type appEnv struct {
	Store  store.Store
	Engine *workflow.Engine
}

// Close releases resources held by the environment.
func (ae *appEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initEnv validates the config for mode, opens and migrates the store and
// builds the workflow engine. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	calc, err := initCalculator()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	eng := workflow.NewEngine(st, calc, workflow.Config{
		ConfidenceThreshold: cfg.Workflow.ConfidenceThreshold,
		StrictNotes:         cfg.Workflow.StrictNotes,
		RecalcConcurrency:   cfg.Workflow.RecalcConcurrency,
	})

	zap.L().Debug("environment ready",
		zap.String("driver", cfg.Store.Driver),
		zap.Bool("strict_notes", cfg.Workflow.StrictNotes),
	)
	return &appEnv{Store: st, Engine: eng}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "lifecare.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCalculator builds the cost calculator from the projection defaults
// and the optional geographic index.
func initCalculator() (*cost.Calculator, error) {
	p := cfg.Projection
	defaults := cost.Defaults{
		InflationRate:    p.InflationRate,
		DiscountRate:     p.DiscountRate,
		DurationYears:    p.DurationYears,
		GeographicFactor: p.GeographicFactor,
	}

	var geo *cost.GeoIndex
	if p.GeoIndexPath != "" {
		g, err := cost.LoadGeoIndex(p.GeoIndexPath)
		if err != nil {
			return nil, err
		}
		geo = g
	}
	return cost.NewCalculator(defaults, geo), nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
