package livedata

import (
	"fmt"

	"github.com/ehr/clinic-live/pkg/wire"
)

// Kind is the declared shape of a channel.
type Kind string

const (
	KindChart   Kind = "chart"
	KindCounter Kind = "counter"
	KindTable   Kind = "table"
)

// ParseKind validates a dataType string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindChart, KindCounter, KindTable:
		return k, nil
	default:
		return "", fmt.Errorf("unknown data type %q (want chart, counter or table)", s)
	}
}

// Default per-channel accumulator sizes.
const (
	MaxChartPoints = 100
	MaxTableRows   = 50
)

// Point is one chart sample.
type Point struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Value     float64 `json:"value" yaml:"value"`
	Label     string  `json:"label,omitempty" yaml:"label,omitempty"`
}

// Row is one table row; columns are free-form.
type Row map[string]any

// ChartUpdate carries either a batch of points or a single point.
type ChartUpdate struct {
	Channel string  `json:"channel"`
	Points  []Point `json:"points,omitempty"`
	Point   *Point  `json:"point,omitempty"`
}

// CounterUpdate sets Value, or adds Delta when Value is absent.
type CounterUpdate struct {
	Channel string   `json:"channel"`
	Value   *float64 `json:"value,omitempty"`
	Delta   *float64 `json:"delta,omitempty"`
}

// TableUpdate carries either a batch of rows or a single row. Rows are
// listed newest first.
type TableUpdate struct {
	Channel string `json:"channel"`
	Rows    []Row  `json:"rows,omitempty"`
	Row     Row    `json:"row,omitempty"`
}

func subscription(channel string, k Kind) wire.Subscription {
	return wire.Subscription{Channel: channel, DataType: string(k)}
}
