package diag

import (
	"strconv"

	"github.com/google/pprof/profile"

	"github.com/valibali/cluu/defs"
)

/// ThreadStat is the minimal per-thread accounting ExportScheduleProfile
/// needs: enough to reconstruct a pprof sample, so that diag does not
/// import proc.
type ThreadStat struct {
	Id              defs.ThreadId
	Name            string
	CPUTimeMs       uint64
	ContextSwitches uint64
}

/// ExportScheduleProfile builds a pprof profile.Profile with one sample
/// per thread, carrying cpu_time_ms and context_switches as sample values.
/// Intended for offline scheduler-fairness analysis (testable property 9,
/// scenario S4: "every counter's share of total increments is within
/// ±15% of 25%" is exactly the kind of thing `go tool pprof -top` on this
/// profile answers).
func ExportScheduleProfile(stats []ThreadStat) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "cpu_time_ms", Unit: "milliseconds"},
			{Type: "context_switches", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "cpu_time_ms", Unit: "milliseconds"},
		Period:     1,
	}

	for i, s := range stats {
		fn := &profile.Function{
			ID:   uint64(i + 1),
			Name: "thread:" + s.Name + "#" + strconv.FormatUint(uint64(s.Id), 10),
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(s.CPUTimeMs), int64(s.ContextSwitches)},
			Label:    map[string][]string{"thread_id": {strconv.FormatUint(uint64(s.Id), 10)}},
		})
	}
	return p
}
