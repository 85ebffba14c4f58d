package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farreach/jobingest/internal/jobs"
)

func TestRegistryResolvesBuiltinKinds(t *testing.T) {
	registry := NewRegistry(testDeps(nil))

	cases := map[jobs.StrategyKind]any{
		jobs.StrategySelector: &Selector{},
		jobs.StrategySitemap:  &Sitemap{},
		jobs.StrategyWorkday:  &Workday{},
		jobs.StrategyUltiPro:  &UltiPro{},
		jobs.StrategyADP:      &ADP{},
		jobs.StrategyScript:   &Script{},
	}
	for kind, want := range cases {
		strat, err := registry.ForSource(jobs.SourceConfig{Name: "Example", Strategy: kind})
		require.NoError(t, err, kind)
		require.IsType(t, want, strat, kind)
	}
}

type nullStrategy struct{}

func (nullStrategy) Run(context.Context, jobs.SourceConfig) ([]jobs.ScrapedJob, []string) {
	return nil, nil
}

func TestRegistryCustomStrategies(t *testing.T) {
	registry := NewRegistry(testDeps(nil))
	registry.RegisterCustom("legacy-board", func(Deps) Strategy { return nullStrategy{} })

	strat, err := registry.ForSource(jobs.SourceConfig{
		Name:       "Legacy Board",
		Strategy:   jobs.StrategyCustom,
		CustomName: "legacy-board",
	})
	require.NoError(t, err)
	require.IsType(t, nullStrategy{}, strat)

	_, err = registry.ForSource(jobs.SourceConfig{
		Name:       "Missing Board",
		Strategy:   jobs.StrategyCustom,
		CustomName: "never-registered",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `no custom strategy registered under "never-registered"`)
}

func TestRegistryUnknownKind(t *testing.T) {
	registry := NewRegistry(testDeps(nil))
	_, err := registry.ForSource(jobs.SourceConfig{Name: "Mystery", Strategy: "telepathy"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown strategy kind "telepathy"`)
}
