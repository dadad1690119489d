// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
//
// Metrics are registered once, usually from package-level variables, and are
// exported in the Prometheus text format by WritePrometheus.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not of the form
	// /path/to/metric.
	ErrInvalidName = errors.New("metric name must start with '/' and contain only [a-z0-9_/]")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFields indicates that a metric declared more than one field.
	ErrTooManyFields = errors.New("metric supports at most one field")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{name: name, allowedValues: allowedValues}
}

// fieldMapper maps a field value to an index in a metric's counter array.
// A metric without a field has exactly one counter.
type fieldMapper struct {
	field *Field
}

func newFieldMapper(fields ...Field) (fieldMapper, error) {
	switch len(fields) {
	case 0:
		return fieldMapper{}, nil
	case 1:
		if len(fields[0].allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		f := fields[0]
		return fieldMapper{field: &f}, nil
	default:
		return fieldMapper{}, ErrTooManyFields
	}
}

func (m fieldMapper) numKeys() int {
	if m.field == nil {
		return 1
	}
	return len(m.field.allowedValues)
}

// lookup returns the index of the counter for the given field values. It
// panics on a mismatch, which is always a programming error.
func (m fieldMapper) lookup(fieldValues ...string) int {
	if m.field == nil {
		if len(fieldValues) != 0 {
			panic(fmt.Sprintf("metric has no fields, got %v", fieldValues))
		}
		return 0
	}
	if len(fieldValues) != 1 {
		panic(fmt.Sprintf("metric field %q needs exactly one value, got %v", m.field.name, fieldValues))
	}
	for i, v := range m.field.allowedValues {
		if v == fieldValues[0] {
			return i
		}
	}
	panic(fmt.Sprintf("metric field %q does not allow value %q", m.field.name, fieldValues[0]))
}

// metadata describes a registered metric.
type metadata struct {
	name        string
	description string
	cumulative  bool
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	metadata

	// fields is the array of field value index keys to counters.
	fields []atomicbitops.Uint64

	// fieldMapper is used to generate index keys for the fields array.
	fieldMapper fieldMapper
}

// customUint64Metric is a metric whose value is computed on export.
type customUint64Metric struct {
	metadata
	value func() uint64
}

// metricSet holds all registered metrics.
type metricSet struct {
	mu sync.Mutex

	uint64Metrics       map[string]*Uint64Metric
	customMetrics       map[string]*customUint64Metric
	distributionMetrics map[string]*DistributionMetric
}

func makeMetricSet() *metricSet {
	return &metricSet{
		uint64Metrics:       make(map[string]*Uint64Metric),
		customMetrics:       make(map[string]*customUint64Metric),
		distributionMetrics: make(map[string]*DistributionMetric),
	}
}

// allMetrics are the registered metrics.
var allMetrics = makeMetricSet()

// checkName returns an error if name cannot be registered.
//
// Preconditions: s.mu is held.
func (s *metricSet) checkName(name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	if _, ok := s.uint64Metrics[name]; ok {
		return ErrNameInUse
	}
	if _, ok := s.customMetrics[name]; ok {
		return ErrNameInUse
	}
	if _, ok := s.distributionMetrics[name]; ok {
		return ErrNameInUse
	}
	return nil
}

// names returns all registered names, sorted.
func (s *metricSet) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for n := range s.uint64Metrics {
		names = append(names, n)
	}
	for n := range s.customMetrics {
		names = append(names, n)
	}
	for n := range s.distributionMetrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func validName(name string) bool {
	if len(name) < 2 || name[0] != '/' || strings.HasSuffix(name, "/") {
		return false
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '/') {
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
//
// Metrics must be statically defined (i.e., at init).
func NewUint64Metric(name string, description string, fields ...Field) (*Uint64Metric, error) {
	mapper, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if err := allMetrics.checkName(name); err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		metadata: metadata{
			name:        name,
			description: description,
			cumulative:  true,
		},
		fields:      make([]atomicbitops.Uint64, mapper.numKeys()),
		fieldMapper: mapper,
	}
	allMetrics.uint64Metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name string, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// RegisterCustomUint64Metric registers a metric with the given name.
//
// Preconditions:
//   - name must be globally unique.
//   - value must be safe to call concurrently with itself.
func RegisterCustomUint64Metric(name string, cumulative bool, description string, value func() uint64) error {
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if err := allMetrics.checkName(name); err != nil {
		return err
	}
	allMetrics.customMetrics[name] = &customUint64Metric{
		metadata: metadata{
			name:        name,
			description: description,
			cumulative:  cumulative,
		},
		value: value,
	}
	return nil
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func MustRegisterCustomUint64Metric(name string, cumulative bool, description string, value func() uint64) {
	if err := RegisterCustomUint64Metric(name, cumulative, description, value); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.fields[m.fieldMapper.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.fields[m.fieldMapper.lookup(fieldValues...)].Add(v)
}
