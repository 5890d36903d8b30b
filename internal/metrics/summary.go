package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Summary is a point-in-time read of the engine collectors, used for the
// operator performance report.
type Summary struct {
	Ticks        map[string]float64
	BrokerCalls  map[string]float64
	GuardTrips   map[string]float64
	Resets       map[string]float64
	OrdersPlaced float64
	Fills        float64
	Closes       float64
	TickCount    uint64
	TickSeconds  float64
}

// FillRate is fills per placed order, in percent.
func (s Summary) FillRate() float64 { return percent(s.Fills, s.OrdersPlaced) }

// TPRate is take-profit closes per fill, in percent.
func (s Summary) TPRate() float64 { return percent(s.Closes, s.Fills) }

// AvgTick is the mean tick latency in seconds.
func (s Summary) AvgTick() float64 {
	if s.TickCount == 0 {
		return 0
	}
	return s.TickSeconds / float64(s.TickCount)
}

// Errors counts failed ticks plus broker calls that did not succeed.
func (s Summary) Errors() float64 {
	n := s.Ticks["error"]
	for result, v := range s.BrokerCalls {
		if result != "ok" {
			n += v
		}
	}
	return n
}

// Summarize gathers from g (the default registry when nil).
func Summarize(g prometheus.Gatherer) (Summary, error) {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	families, err := g.Gather()
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		Ticks:       map[string]float64{},
		BrokerCalls: map[string]float64{},
		GuardTrips:  map[string]float64{},
		Resets:      map[string]float64{},
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "griddca_ticks_total":
			sumBy(mf, "outcome", s.Ticks)
		case "griddca_broker_calls_total":
			sumBy(mf, "result", s.BrokerCalls)
		case "griddca_guard_trips_total":
			sumBy(mf, "reason", s.GuardTrips)
		case "griddca_cycle_resets_total":
			sumBy(mf, "result", s.Resets)
		case "griddca_orders_placed_total":
			s.OrdersPlaced = total(mf)
		case "griddca_fills_total":
			s.Fills = total(mf)
		case "griddca_closes_total":
			s.Closes = total(mf)
		case "griddca_tick_duration_seconds":
			for _, m := range mf.GetMetric() {
				if h := m.GetHistogram(); h != nil {
					s.TickCount += h.GetSampleCount()
					s.TickSeconds += h.GetSampleSum()
				}
			}
		}
	}
	return s, nil
}

func sumBy(mf *dto.MetricFamily, label string, out map[string]float64) {
	for _, m := range mf.GetMetric() {
		key := ""
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				key = lp.GetValue()
			}
		}
		out[key] += m.GetCounter().GetValue()
	}
}

func total(mf *dto.MetricFamily) float64 {
	var n float64
	for _, m := range mf.GetMetric() {
		n += m.GetCounter().GetValue()
	}
	return n
}

func percent(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b * 100
}
