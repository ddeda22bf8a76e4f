// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML documents over a base configuration
type Builder struct {
	yamls  []string
	files  []string
	Config *Config
}

// Use sets the base configuration; DefaultConfig is used when unset
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds YAML documents to be merged into the configuration
func (b *Builder) Merge(yamls ...string) *Builder {
	b.yamls = append(b.yamls, yamls...)
	return b
}

// MergeFile adds YAML files to be merged after the documents passed to Merge
func (b *Builder) MergeFile(paths ...string) *Builder {
	b.files = append(b.files, paths...)
	return b
}

// Build merges all documents and files in order over the base configuration
// and validates the result
func (b *Builder) Build(skips ...SkipValidation) (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	docs := b.yamls
	var errs error
	for _, path := range b.files {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to read config file: %w", err))
			continue
		}
		docs = append(docs, string(data))
	}

	for _, y := range docs {
		additional := &Config{}
		if err := yaml.Unmarshal([]byte(y), additional); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse YAML: %w, yaml: %s", err, y))
			continue
		}

		if err := mergo.Merge(b.Config, additional, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to merge config: %w, yaml: %s", err, y))
			continue
		}
	}

	if errs != nil {
		return nil, errs
	}

	b.Config.sanitize()
	if err := b.Config.Validate(skips...); err != nil {
		return nil, err
	}
	return b.Config, nil
}

// boolPtrTransformer lets an explicit false in a merged document override true.
type boolPtrTransformer struct{}

func (t boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}

	return func(dst, src reflect.Value) error {
		if src.IsNil() {
			return nil
		}
		if dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
