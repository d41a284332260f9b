// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator builds random graph stores for benchmarks and tests.
//
// Generation is sequential and driven by one PCG stream, so a seed always
// yields the same store.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/idmap"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// ErrInvalidConfig is returned for configurations that fail validation.
var ErrInvalidConfig = errors.New("invalid generator configuration")

// Distribution selects how out-degrees are drawn.
type Distribution string

const (
	// Uniform gives every node round(AverageDegree) relationships.
	Uniform Distribution = "uniform"

	// Random draws each degree uniformly from [0, 2*AverageDegree].
	Random Distribution = "random"

	// PowerLaw draws degrees from a Pareto distribution (alpha 2) with the
	// configured mean, capped at the node count.
	PowerLaw Distribution = "power_law"
)

// DefaultRelationshipType is used when Config.RelationshipType is empty.
const DefaultRelationshipType = "REL"

// checkEvery is the number of nodes generated between termination checks.
const checkEvery = 1024

var validate = validator.New()

// Config describes a random graph.
type Config struct {
	Name             string       `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	NodeCount        int64        `mapstructure:"node_count" json:"node_count" yaml:"node_count" validate:"gte=0"`
	AverageDegree    float64      `mapstructure:"average_degree" json:"average_degree" yaml:"average_degree" validate:"gte=0"`
	Distribution     Distribution `mapstructure:"distribution" json:"distribution" yaml:"distribution" validate:"omitempty,oneof=uniform random power_law"`
	Seed             uint64       `mapstructure:"seed" json:"seed" yaml:"seed"`
	RelationshipType string       `mapstructure:"relationship_type" json:"relationship_type,omitempty" yaml:"relationship_type"`
	AllowSelfLoops   bool         `mapstructure:"allow_self_loops" json:"allow_self_loops" yaml:"allow_self_loops"`
	InverseIndex     bool         `mapstructure:"inverse_index" json:"inverse_index" yaml:"inverse_index"`

	// PropertyKey adds a DOUBLE relationship property drawn from
	// [PropertyMin, PropertyMax).
	PropertyKey string  `mapstructure:"property_key" json:"property_key,omitempty" yaml:"property_key"`
	PropertyMin float64 `mapstructure:"property_min" json:"property_min" yaml:"property_min"`
	PropertyMax float64 `mapstructure:"property_max" json:"property_max" yaml:"property_max"`
}

// Validate checks struct tags and the property range.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.PropertyKey != "" && !(c.PropertyMax > c.PropertyMin) {
		return fmt.Errorf("%w: property_max %v must exceed property_min %v", ErrInvalidConfig, c.PropertyMax, c.PropertyMin)
	}
	return nil
}

// Option customizes Generate.
type Option func(*options)

type options struct {
	tracker progress.Tracker
	logger  *slog.Logger
	store   []graph.StoreOption
}

// WithProgress reports generation on tracker.
func WithProgress(tracker progress.Tracker) Option {
	return func(o *options) { o.tracker = tracker }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStoreOptions forwards options to graph.NewStore.
func WithStoreOptions(opts ...graph.StoreOption) Option {
	return func(o *options) { o.store = append(o.store, opts...) }
}

// Generate builds a store with original ids 0..NodeCount-1 and one
// relationship type.
//
// Inputs:
//
//	ctx - Cancellation is checked every 1024 nodes.
//	cfg - The graph description.
//
// Outputs:
//
//	*graph.Store - The generated store.
//	error - ErrInvalidConfig, or a termination error when ctx ends.
func Generate(ctx context.Context, cfg Config, opts ...Option) (*graph.Store, error) {
	o := options{tracker: progress.Null(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Distribution == "" {
		cfg.Distribution = Uniform
	}
	if cfg.RelationshipType == "" {
		cfg.RelationshipType = DefaultRelationshipType
	}

	start := time.Now()
	flag := termination.FromContext(ctx)
	n := cfg.NodeCount
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	var builderOpts []topology.BuilderOption
	if cfg.InverseIndex {
		builderOpts = append(builderOpts, topology.WithInverseIndex())
	}
	if cfg.PropertyKey != "" {
		builderOpts = append(builderOpts, topology.WithPropertyKeys(cfg.PropertyKey))
	}
	expected := int(math.Min(float64(n)*cfg.AverageDegree, math.MaxInt32))
	builderOpts = append(builderOpts, topology.WithExpectedRelationships(expected))
	b := topology.NewBuilder(n, builderOpts...)

	o.tracker.BeginSubTaskWithDescriptionAndVolume("Generate "+cfg.Name, n)
	props := make([]float64, 0, 1)
	for source := range n {
		if source%checkEvery == 0 {
			if err := flag.AssertRunning(); err != nil {
				o.tracker.EndSubTaskWithFailure(err)
				return nil, err
			}
			if source > 0 {
				o.tracker.LogProgress(checkEvery)
			}
		}
		degree := drawDegree(rng, cfg.Distribution, cfg.AverageDegree, n)
		for range degree {
			target, ok := drawTarget(rng, source, n, cfg.AllowSelfLoops)
			if !ok {
				break
			}
			props = props[:0]
			if cfg.PropertyKey != "" {
				props = append(props, cfg.PropertyMin+rng.Float64()*(cfg.PropertyMax-cfg.PropertyMin))
			}
			if err := b.Add(source, target, props...); err != nil {
				o.tracker.EndSubTaskWithFailure(err)
				return nil, err
			}
		}
	}
	if n > 0 {
		o.tracker.LogProgress((n-1)%checkEvery + 1)
	}

	topo, columns := b.Build()
	store := graph.NewStore(cfg.Name, idmap.Identity(n), o.store...)
	relProps := map[string]properties.Values{}
	if cfg.PropertyKey != "" {
		relProps[cfg.PropertyKey] = properties.NewDoubleValues(columns[cfg.PropertyKey])
	}
	if err := store.AddRelationshipType(cfg.RelationshipType, topo, relProps); err != nil {
		o.tracker.EndSubTaskWithFailure(err)
		return nil, err
	}
	o.tracker.EndSubTask()

	o.logger.Info("Generated graph",
		slog.String("name", cfg.Name),
		slog.Int64("node_count", n),
		slog.Int64("relationship_count", topo.RelationshipCount()),
		slog.String("distribution", string(cfg.Distribution)),
		slog.Duration("duration", time.Since(start)),
	)
	return store, nil
}

func drawDegree(rng *rand.Rand, dist Distribution, avg float64, n int64) int64 {
	var d float64
	switch dist {
	case Random:
		d = math.Floor(rng.Float64() * (2*avg + 1))
	case PowerLaw:
		// Pareto(xm, 2) has mean 2*xm.
		u := 1 - rng.Float64()
		d = math.Floor(avg / 2 / math.Sqrt(u))
	default:
		d = math.Round(avg)
	}
	return min(int64(d), n)
}

// drawTarget picks a uniform target, redrawing self-loops when they are not
// allowed. It reports false when no valid target exists.
func drawTarget(rng *rand.Rand, source, n int64, allowSelfLoops bool) (int64, bool) {
	if allowSelfLoops {
		return rng.Int64N(n), true
	}
	if n < 2 {
		return 0, false
	}
	t := rng.Int64N(n - 1)
	if t >= source {
		t++
	}
	return t, true
}
