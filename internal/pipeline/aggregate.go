package pipeline

import (
	"reflect"
	"time"
)

// aggregator folds per-worker progress into an overall percentage and a
// throughput estimate
type aggregator struct {
	duration float64
	now      func() time.Time
	report   func(Progress)
}

// run waits on whichever channel is ready until every channel is closed. A
// closed channel pins its worker at 100. The final progress is returned.
func (a *aggregator) run(channels []chan float64) Progress {
	cases := make([]reflect.SelectCase, len(channels))
	for i, ch := range channels {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)}
	}

	progress := make([]float64, len(channels))
	remaining := len(channels)

	var (
		current  Progress
		previous float64
		since    = a.now()
	)
	for remaining > 0 {
		chosen, value, ok := reflect.Select(cases)
		if ok {
			progress[chosen] = value.Float()
		} else {
			progress[chosen] = 100
			// a zero Value removes the case from the select set
			cases[chosen].Chan = reflect.Value{}
			remaining--
		}

		current.Percent = mean(progress)
		if elapsed := a.now().Sub(since).Seconds(); elapsed >= 1 {
			scanned := (current.Percent - previous) / 100 * a.duration
			current.Speed = scanned / elapsed
			previous = current.Percent
			since = a.now()
		}

		if a.report != nil {
			a.report(current)
		}
	}
	return current
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 100
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
