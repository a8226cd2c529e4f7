package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openctemio/groups/internal/config"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "groups"}, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	cfg := config.TelemetryConfig{OTLPEndpoint: "http://192.0.2.1:4318", ServiceName: "groups"}

	shutdown, err := Setup(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
