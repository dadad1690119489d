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
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Prefix is prepended to every exported metric name.
const Prefix = "kmux"

// PrometheusName converts a metric name such as /mutex/creates to its
// Prometheus form, kmux_mutex_creates.
func PrometheusName(name string) string {
	return Prefix + strings.ReplaceAll(name, "/", "_")
}

func counterOrGauge(m metadata) *dto.MetricType {
	if m.cumulative {
		return dto.MetricType_COUNTER.Enum()
	}
	return dto.MetricType_GAUGE.Enum()
}

func sample(m metadata, v uint64, labels ...*dto.LabelPair) *dto.Metric {
	out := &dto.Metric{Label: labels}
	if m.cumulative {
		out.Counter = &dto.Counter{Value: proto.Float64(float64(v))}
	} else {
		out.Gauge = &dto.Gauge{Value: proto.Float64(float64(v))}
	}
	return out
}

func (m *Uint64Metric) family() *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(PrometheusName(m.name)),
		Help: proto.String(m.description),
		Type: counterOrGauge(m.metadata),
	}
	if m.fieldMapper.field == nil {
		mf.Metric = append(mf.Metric, sample(m.metadata, m.fields[0].Load()))
		return mf
	}
	f := m.fieldMapper.field
	for i, v := range f.allowedValues {
		label := &dto.LabelPair{Name: proto.String(f.name), Value: proto.String(v)}
		mf.Metric = append(mf.Metric, sample(m.metadata, m.fields[i].Load(), label))
	}
	return mf
}

func (m *customUint64Metric) family() *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(PrometheusName(m.name)),
		Help:   proto.String(m.description),
		Type:   counterOrGauge(m.metadata),
		Metric: []*dto.Metric{sample(m.metadata, m.value())},
	}
}

func (d *DistributionMetric) family() *dto.MetricFamily {
	h := &dto.Histogram{
		SampleCount: proto.Uint64(d.Count()),
		SampleSum:   proto.Float64(float64(d.Sum())),
	}
	for i, c := range d.cumulativeCounts() {
		h.Bucket = append(h.Bucket, &dto.Bucket{
			CumulativeCount: proto.Uint64(c),
			UpperBound:      proto.Float64(float64(d.bounds[i])),
		})
	}
	return &dto.MetricFamily{
		Name:   proto.String(PrometheusName(d.name)),
		Help:   proto.String(d.description),
		Type:   dto.MetricType_HISTOGRAM.Enum(),
		Metric: []*dto.Metric{{Histogram: h}},
	}
}

// families snapshots every registered metric, sorted by name.
func families() []*dto.MetricFamily {
	var out []*dto.MetricFamily
	for _, name := range allMetrics.names() {
		allMetrics.mu.Lock()
		m, isUint := allMetrics.uint64Metrics[name]
		c, isCustom := allMetrics.customMetrics[name]
		d := allMetrics.distributionMetrics[name]
		allMetrics.mu.Unlock()
		switch {
		case isUint:
			out = append(out, m.family())
		case isCustom:
			out = append(out, c.family())
		default:
			out = append(out, d.family())
		}
	}
	return out
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, mf := range families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
