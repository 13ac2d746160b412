package metrics

import "github.com/prometheus/client_golang/prometheus"

type nopRegistry struct{}

type nopInstrument struct{}

func (nopInstrument) Set(float64) {}
func (nopInstrument) Inc() {}
func (nopInstrument) Add(float64) {}
func (nopInstrument) Observe(float64) {}

type nopGaugeVec struct{}

func (nopGaugeVec) With(prometheus.Labels) Gauge { return nopInstrument{} }

type nopCounterVec struct{}

func (nopCounterVec) With(prometheus.Labels) Counter { return nopInstrument{} }

type nopHistogramVec struct{}

func (nopHistogramVec) With(prometheus.Labels) Histogram { return nopInstrument{} }

// Nop returns a Registry whose instruments discard every update.
func Nop() Registry {
	return nopRegistry{}
}

func (nopRegistry) NewGauge(prometheus.GaugeOpts) (Gauge, error) {
	return nopInstrument{}, nil
}

func (nopRegistry) NewGaugeVec(prometheus.GaugeOpts, []string) (GaugeVec, error) {
	return nopGaugeVec{}, nil
}

func (nopRegistry) NewCounter(prometheus.CounterOpts) (Counter, error) {
	return nopInstrument{}, nil
}

func (nopRegistry) NewCounterVec(prometheus.CounterOpts, []string) (CounterVec, error) {
	return nopCounterVec{}, nil
}

func (nopRegistry) NewHistogramVec(prometheus.HistogramOpts, []string) (HistogramVec, error) {
	return nopHistogramVec{}, nil
}
