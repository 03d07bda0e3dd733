package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/d365kit/odata-client/pkg/auth"
	_ "github.com/d365kit/odata-client/pkg/odata"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}
	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestClientMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}

	// Label-less metrics surface immediately after package init.
	// Labelled vectors only appear once a child is created, so they
	// are exercised by the auth and odata package tests instead.
	for _, want := range []string{
		"d365_token_cache_hits_total",
		"d365_request_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("Metric %s not registered", want)
		}
	}
}
