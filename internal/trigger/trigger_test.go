package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/internal/schema"
)

func edge(dir schema.EdgeDirection, level float64) schema.TriggerConfig {
	return schema.TriggerConfig{Type: schema.TriggerEdge, Channel: "CH1", Level: level, Edge: dir}
}

func TestLevelTrigger(t *testing.T) {
	cfg := schema.TriggerConfig{Type: schema.TriggerLevel, Channel: "CH1", Level: 2.5}
	require.False(t, Fire(cfg, 0, 2.4))
	require.True(t, Fire(cfg, 0, 2.5))
	require.True(t, Fire(cfg, 0, 3.0))
}

func TestRisingEdge(t *testing.T) {
	cfg := edge(schema.EdgeRising, 2.0)
	require.True(t, Fire(cfg, 1.9, 2.0), "previous < threshold <= current must fire")
	require.True(t, Fire(cfg, 1.0, 5.0))
	require.False(t, Fire(cfg, 2.0, 2.1), "already at threshold is not a crossing")
	require.False(t, Fire(cfg, 2.5, 3.0))
	require.False(t, Fire(cfg, 1.0, 1.9))
	require.False(t, Fire(cfg, 3.0, 1.0), "falling crossing must not fire rising")
}

func TestFallingEdge(t *testing.T) {
	cfg := edge(schema.EdgeFalling, 2.0)
	require.True(t, Fire(cfg, 2.1, 2.0), "previous > threshold >= current must fire")
	require.True(t, Fire(cfg, 5.0, 1.0))
	require.False(t, Fire(cfg, 2.0, 1.9), "already at threshold is not a crossing")
	require.False(t, Fire(cfg, 1.0, 0.5))
	require.False(t, Fire(cfg, 1.0, 3.0), "rising crossing must not fire falling")
}

func TestEitherEdgeFiresOnBothCrossings(t *testing.T) {
	cfg := edge(schema.EdgeEither, 2.0)
	require.True(t, Fire(cfg, 1.0, 3.0))
	require.True(t, Fire(cfg, 3.0, 1.0))
	require.False(t, Fire(cfg, 2.5, 3.0))
	require.False(t, Fire(cfg, 1.0, 1.5))
}

func TestImmediateAndTimeAlwaysFire(t *testing.T) {
	require.True(t, Fire(schema.TriggerConfig{Type: schema.TriggerImmediate}, 0, 0))
	require.True(t, Fire(schema.TriggerConfig{Type: schema.TriggerTime}, 0, 0))
}

func TestExternalNeverFiresFromSamples(t *testing.T) {
	cfg := schema.TriggerConfig{Type: schema.TriggerExternal}
	require.False(t, Fire(cfg, 0, 1000))
}

func TestNeedsSampling(t *testing.T) {
	require.True(t, NeedsSampling(schema.TriggerLevel))
	require.True(t, NeedsSampling(schema.TriggerEdge))
	require.False(t, NeedsSampling(schema.TriggerImmediate))
	require.False(t, NeedsSampling(schema.TriggerTime))
	require.False(t, NeedsSampling(schema.TriggerExternal))
}
