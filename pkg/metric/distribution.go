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

package metric

import (
	"errors"
	"fmt"
	"sort"

	"gvisor.dev/kmux/pkg/atomicbitops"
)

// ErrBadBuckets indicates that bucket bounds are empty or not strictly
// increasing.
var ErrBadBuckets = errors.New("bucket upper bounds must be non-empty and strictly increasing")

// ExponentialBuckets returns n upper bounds: start, start*factor, ...
func ExponentialBuckets(start, factor uint64, n int) []uint64 {
	bounds := make([]uint64, n)
	v := start
	for i := range bounds {
		bounds[i] = v
		v *= factor
	}
	return bounds
}

// DistributionMetric represents a distribution of values in finite buckets.
// It also separately keeps track of a total sum and number of samples.
type DistributionMetric struct {
	metadata

	// bounds are the inclusive upper bounds of the finite buckets.
	bounds []uint64

	// samples holds one counter per finite bucket plus the overflow
	// bucket.
	samples []atomicbitops.Uint64

	count atomicbitops.Uint64
	sum   atomicbitops.Uint64
}

// NewDistributionMetric creates and registers a new distribution metric.
func NewDistributionMetric(name string, description string, bounds []uint64) (*DistributionMetric, error) {
	if len(bounds) == 0 {
		return nil, ErrBadBuckets
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return nil, ErrBadBuckets
		}
	}
	allMetrics.mu.Lock()
	defer allMetrics.mu.Unlock()
	if err := allMetrics.checkName(name); err != nil {
		return nil, err
	}
	d := &DistributionMetric{
		metadata: metadata{
			name:        name,
			description: description,
			cumulative:  true,
		},
		bounds:  append([]uint64(nil), bounds...),
		samples: make([]atomicbitops.Uint64, len(bounds)+1),
	}
	allMetrics.distributionMetrics[name] = d
	return d, nil
}

// MustCreateNewDistributionMetric creates and registers a distribution
// metric. If an error occurs, it panics.
func MustCreateNewDistributionMetric(name string, description string, bounds []uint64) *DistributionMetric {
	d, err := NewDistributionMetric(name, description, bounds)
	if err != nil {
		panic(fmt.Sprintf("Unable to create distribution metric %q: %s", name, err))
	}
	return d
}

// AddSample adds a sample to the distribution.
func (d *DistributionMetric) AddSample(sample uint64) {
	i := sort.Search(len(d.bounds), func(i int) bool { return sample <= d.bounds[i] })
	d.samples[i].Add(1)
	d.count.Add(1)
	d.sum.Add(sample)
}

// Count returns the number of samples recorded.
func (d *DistributionMetric) Count() uint64 {
	return d.count.Load()
}

// Sum returns the sum of all samples recorded.
func (d *DistributionMetric) Sum() uint64 {
	return d.sum.Load()
}

// cumulativeCounts returns, per finite bucket, the number of samples less
// than or equal to its upper bound.
func (d *DistributionMetric) cumulativeCounts() []uint64 {
	counts := make([]uint64, len(d.bounds))
	var total uint64
	for i := range d.bounds {
		total += d.samples[i].Load()
		counts[i] = total
	}
	return counts
}
