// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithm

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// configValidate checks struct tags of every algorithm config.
var configValidate = validator.New()

// Config is implemented by every algorithm configuration.
type Config interface {
	// Validate returns a ConfigError for invalid parameters.
	Validate() error
}

// BaseConfig holds the parameters every algorithm shares. Algorithm configs
// embed it with `mapstructure:",squash"`.
type BaseConfig struct {
	// RelationshipTypes selects types. Empty selects every type.
	RelationshipTypes []string `mapstructure:"relationship_types" json:"relationship_types,omitempty"`

	// Orientation is the traversal orientation.
	Orientation topology.Orientation `mapstructure:"orientation" json:"orientation"`

	// Concurrency bounds the executor. Zero keeps the executor's bound.
	Concurrency int `mapstructure:"concurrency" json:"concurrency" validate:"gte=0,lte=1024"`

	// RelationshipWeightProperty binds a weight. Empty means unweighted.
	RelationshipWeightProperty string `mapstructure:"relationship_weight_property" json:"relationship_weight_property,omitempty"`

	// WeightFallback is reported for relationships without a weight.
	WeightFallback float64 `mapstructure:"weight_fallback" json:"weight_fallback"`
}

// ValidateStruct runs the struct tag validation of cfg and converts the
// first failure into a ConfigError.
func ValidateStruct(algorithm string, cfg any) error {
	if err := configValidate.Struct(cfg); err != nil {
		return configErrorFrom(algorithm, err)
	}
	return nil
}

// ConcurrencyBound returns the requested executor bound, 0 for none.
func (c BaseConfig) ConcurrencyBound() int { return c.Concurrency }

// ViewOptions returns the view options implied by the config.
func (c BaseConfig) ViewOptions() []graph.ViewOption {
	if c.RelationshipWeightProperty == "" {
		return nil
	}
	return []graph.ViewOption{graph.WithRelationshipProperty(c.RelationshipWeightProperty)}
}

// Acquire builds the view the config selects.
func (c BaseConfig) Acquire(store graph.GraphStore) (graph.Graph, error) {
	return store.Graph(c.RelationshipTypes, c.Orientation, c.ViewOptions()...)
}

// Decode fills dst from a request map.
//
// Description:
//
//	Keys are snake_case mapstructure names. Unknown keys are an error, and
//	strings decode into types implementing encoding.TextUnmarshaler, so
//	"orientation": "UNDIRECTED" works. Numeric strings are accepted for
//	numeric fields.
//
// Outputs:
//
//	error - ConfigError for unknown keys or mistyped values.
func Decode(algorithm string, raw map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("building config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return &ConfigError{Algorithm: algorithm, Message: err.Error()}
	}
	return nil
}
