// Package config loads EventStoreConfig and SubscriptionModelConfig
// from YAML, mirroring the teacher's config package's role of turning
// plain configuration into the option structs the storage packages
// expect, for operators who'd rather ship an occurrent.yaml next to a
// binary than wire Go literals.
package config

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/johanhaleby/occurrent-go/eventstore"
	eventstoremongo "github.com/johanhaleby/occurrent-go/eventstore/mongodb"
	subscriptionmongodb "github.com/johanhaleby/occurrent-go/subscription/mongodb"
	"github.com/johanhaleby/occurrent-go/subscription/retry"
)

// EventStoreConfig is the YAML shape of an eventstore/mongodb.Options.
type EventStoreConfig struct {
	Database           string `yaml:"database"`
	EventCollection    string `yaml:"eventCollection"`
	Guarantee          string `yaml:"guarantee"` // "none" (default) or "transactional"
	MetadataCollection string `yaml:"metadataCollection,omitempty"`
	TimeRepresentation string `yaml:"timeRepresentation,omitempty"` // "rfc3339" (default) or "date"
}

// LoadEventStoreConfig decodes r as an EventStoreConfig, rejecting
// unknown fields so a typo in occurrent.yaml fails loudly instead of
// silently falling back to a default.
func LoadEventStoreConfig(r io.Reader) (EventStoreConfig, error) {
	var cfg EventStoreConfig
	data, err := io.ReadAll(r)
	if err != nil {
		return EventStoreConfig{}, errors.Wrap(err, "config: reading event store config")
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return EventStoreConfig{}, errors.Wrap(err, "config: decoding event store config")
	}
	return cfg, nil
}

// Options converts c into the eventstore/mongodb.Options NewEventStore
// expects.
func (c EventStoreConfig) Options() (eventstoremongo.Options, error) {
	timeRep, err := parseTimeRepresentation(c.TimeRepresentation)
	if err != nil {
		return eventstoremongo.Options{}, err
	}

	guarantee, err := c.guarantee()
	if err != nil {
		return eventstoremongo.Options{}, err
	}

	return eventstoremongo.Options{
		EventCollection:    c.EventCollection,
		Guarantee:          guarantee,
		TimeRepresentation: timeRep,
	}, nil
}

func (c EventStoreConfig) guarantee() (eventstore.StreamConsistencyGuarantee, error) {
	switch c.Guarantee {
	case "", "none":
		return eventstore.None(), nil
	case "transactional":
		metadataCollection := c.MetadataCollection
		if metadataCollection == "" {
			metadataCollection = "streamMetadata"
		}
		return eventstore.Transactional(metadataCollection), nil
	default:
		return nil, errors.Errorf("config: unknown guarantee %q", c.Guarantee)
	}
}

// SubscriptionModelConfig is the YAML shape of a
// subscription/mongodb.Options.
type SubscriptionModelConfig struct {
	Database                         string `yaml:"database"`
	EventCollection                  string `yaml:"eventCollection"`
	PositionCollection               string `yaml:"positionCollection,omitempty"`
	LeaseCollection                  string `yaml:"leaseCollection,omitempty"`
	LeaseTTL                         string `yaml:"leaseTtl,omitempty"`
	ReplicaID                        string `yaml:"replicaId,omitempty"`
	RestartOnChangeStreamHistoryLost bool   `yaml:"restartOnChangeStreamHistoryLost,omitempty"`
	TimeRepresentation               string `yaml:"timeRepresentation,omitempty"`
	MaxConcurrentSubscriptions       int64  `yaml:"maxConcurrentSubscriptions,omitempty"`
	LeasePollInterval                string `yaml:"leasePollInterval,omitempty"`
	RetryBackoff                     string `yaml:"retryBackoff,omitempty"` // "none" (default) or "fixed:<duration>"
}

// LoadSubscriptionModelConfig decodes r as a SubscriptionModelConfig,
// rejecting unknown fields.
func LoadSubscriptionModelConfig(r io.Reader) (SubscriptionModelConfig, error) {
	var cfg SubscriptionModelConfig
	data, err := io.ReadAll(r)
	if err != nil {
		return SubscriptionModelConfig{}, errors.Wrap(err, "config: reading subscription model config")
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return SubscriptionModelConfig{}, errors.Wrap(err, "config: decoding subscription model config")
	}
	return cfg, nil
}

// Options converts c into the subscription/mongodb.Options NewModel
// expects.
func (c SubscriptionModelConfig) Options() (subscriptionmongodb.Options, error) {
	timeRep, err := parseTimeRepresentation(c.TimeRepresentation)
	if err != nil {
		return subscriptionmongodb.Options{}, err
	}

	var leaseTTL, leasePollInterval time.Duration
	if c.LeaseTTL != "" {
		if leaseTTL, err = time.ParseDuration(c.LeaseTTL); err != nil {
			return subscriptionmongodb.Options{}, errors.Wrap(err, "config: parsing leaseTtl")
		}
	}
	if c.LeasePollInterval != "" {
		if leasePollInterval, err = time.ParseDuration(c.LeasePollInterval); err != nil {
			return subscriptionmongodb.Options{}, errors.Wrap(err, "config: parsing leasePollInterval")
		}
	}

	backoff, err := parseBackoff(c.RetryBackoff)
	if err != nil {
		return subscriptionmongodb.Options{}, err
	}

	return subscriptionmongodb.Options{
		EventCollection:                  c.EventCollection,
		PositionCollection:               c.PositionCollection,
		LeaseCollection:                  c.LeaseCollection,
		LeaseTTL:                         leaseTTL,
		ReplicaID:                        c.ReplicaID,
		RetryStrategy:                    retry.NewStrategy(backoff),
		RestartOnChangeStreamHistoryLost: c.RestartOnChangeStreamHistoryLost,
		TimeRepresentation:               timeRep,
		MaxConcurrentSubscriptions:       c.MaxConcurrentSubscriptions,
		LeasePollInterval:                leasePollInterval,
	}, nil
}

func parseTimeRepresentation(s string) (eventstore.TimeRepresentation, error) {
	switch s {
	case "", "rfc3339":
		return eventstore.RFC3339String, nil
	case "date":
		return eventstore.Date, nil
	default:
		return 0, errors.Errorf("config: unknown timeRepresentation %q", s)
	}
}

func parseBackoff(s string) (retry.Backoff, error) {
	if s == "" || s == "none" {
		return retry.None(), nil
	}
	const fixedPrefix = "fixed:"
	if len(s) > len(fixedPrefix) && s[:len(fixedPrefix)] == fixedPrefix {
		d, err := time.ParseDuration(s[len(fixedPrefix):])
		if err != nil {
			return nil, errors.Wrap(err, "config: parsing retryBackoff")
		}
		return retry.Fixed(d), nil
	}
	return nil, errors.Errorf("config: unknown retryBackoff %q", s)
}
