package config

import (
	"strings"
	"testing"
	"time"

	"github.com/johanhaleby/occurrent-go/eventstore"
)

func TestLoadEventStoreConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "defaults",
			yaml: "eventCollection: events\n",
		},
		{
			name: "transactional",
			yaml: "eventCollection: events\nguarantee: transactional\nmetadataCollection: streamMeta\n",
		},
		{
			name:    "unknown field rejected",
			yaml:    "eventCollection: events\nbogus: true\n",
			wantErr: true,
		},
		{
			name:    "unknown guarantee rejected",
			yaml:    "eventCollection: events\nguarantee: sometimes\n",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadEventStoreConfig(strings.NewReader(tc.yaml))
			if tc.wantErr {
				if err == nil {
					if _, optErr := cfg.Options(); optErr == nil {
						t.Fatalf("expected an error, got none")
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadEventStoreConfig: %v", err)
			}
			if _, err := cfg.Options(); err != nil {
				t.Fatalf("Options: %v", err)
			}
		})
	}
}

func TestEventStoreConfigOptionsDefaultsToNone(t *testing.T) {
	cfg, err := LoadEventStoreConfig(strings.NewReader("eventCollection: events\n"))
	if err != nil {
		t.Fatalf("LoadEventStoreConfig: %v", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if _, ok := eventstore.MetadataCollection(opts.Guarantee); ok {
		t.Fatalf("expected None guarantee by default")
	}
	if opts.TimeRepresentation != eventstore.RFC3339String {
		t.Fatalf("expected RFC3339String default, got %v", opts.TimeRepresentation)
	}
}

func TestLoadSubscriptionModelConfig(t *testing.T) {
	cfg, err := LoadSubscriptionModelConfig(strings.NewReader(`
eventCollection: events
leaseTtl: 5s
leasePollInterval: 1s
retryBackoff: "fixed:200ms"
`))
	if err != nil {
		t.Fatalf("LoadSubscriptionModelConfig: %v", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.LeaseTTL != 5*time.Second {
		t.Fatalf("LeaseTTL = %v, want 5s", opts.LeaseTTL)
	}
	if opts.LeasePollInterval != time.Second {
		t.Fatalf("LeasePollInterval = %v, want 1s", opts.LeasePollInterval)
	}
}

func TestSubscriptionModelConfigRejectsUnknownBackoff(t *testing.T) {
	cfg, err := LoadSubscriptionModelConfig(strings.NewReader("eventCollection: events\nretryBackoff: exponential\n"))
	if err != nil {
		t.Fatalf("LoadSubscriptionModelConfig: %v", err)
	}
	if _, err := cfg.Options(); err == nil {
		t.Fatalf("expected an error for unknown retryBackoff")
	}
}
