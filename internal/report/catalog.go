package report

import (
	"context"
	"fmt"
)

// Definition names one fixed report.
type Definition struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Note  string `json:"note,omitempty"`

	run func(ctx context.Context, r *Reports) (any, error)
}

// Result is the output of one report.
type Result struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Note  string `json:"note,omitempty"`
	Rows  any    `json:"rows"`
}

func def[T any](name, title string, fn func(*Reports, context.Context) ([]T, error)) Definition {
	return Definition{
		Name:  name,
		Title: title,
		run: func(ctx context.Context, r *Reports) (any, error) {
			return fn(r, ctx)
		},
	}
}

var definitions = []Definition{
	def("flights-per-model", "Total flights per aircraft model", (*Reports).FlightsPerModel),
	def("busy-aircraft", "Aircraft used in more than the threshold of flights", (*Reports).BusyAircraft),
	def("busy-airports", "Airports with more than the threshold of outbound flights", (*Reports).BusyAirports),
	def("top-destinations", "Top destination airports by arrivals", (*Reports).TopDestinations),
	def("domestic-international", "Domestic vs international flights", (*Reports).DomesticInternational),
	def("recent-arrivals", "Most recent arrivals at the hub", (*Reports).RecentArrivals),
	def("airports-without-arrivals", "Airports with no arriving flights", (*Reports).AirportsWithoutArrivals),
	def("status-by-airline", "Flights by airline and status", (*Reports).StatusByAirline),
	def("cancelled-flights", "Cancelled flights", (*Reports).CancelledFlights),
	def("multi-model-city-pairs", "City pairs served by several aircraft models", (*Reports).MultiModelCityPairs),
	def("delayed-share", "Delayed share of flights per destination airport", (*Reports).DelayedShareByDestination),
	withNote(def("latest-delays", "Latest daily delay statistics per airport", (*Reports).LatestDelays),
		"delay minutes are approximated as delayed/total*60; they are not measured"),
}

func withNote(d Definition, note string) Definition {
	d.Note = note
	return d
}

// Definitions lists the available reports in display order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Run executes the named report.
func (r *Reports) Run(ctx context.Context, name string) (Result, error) {
	for _, d := range definitions {
		if d.Name != name {
			continue
		}
		rows, err := d.run(ctx, r)
		if err != nil {
			return Result{}, fmt.Errorf("report %s: %w", name, err)
		}
		return Result{Name: d.Name, Title: d.Title, Note: d.Note, Rows: rows}, nil
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnknownReport, name)
}
