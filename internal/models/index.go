package models

import (
	"fmt"
	"strings"
)

// Metric is the similarity function a collection is created with.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dotproduct"
)

// ParseMetric accepts the configured metric name case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return m, nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// IndexSpec identifies a collection and the shape of its vectors.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

func (s IndexSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("index name is required")
	}
	if s.Dimension < 1 {
		return fmt.Errorf("index dimension must be positive, got %d", s.Dimension)
	}
	if _, err := ParseMetric(string(s.Metric)); err != nil {
		return err
	}
	return nil
}
