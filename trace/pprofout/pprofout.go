// Package pprofout converts the subcalls table into a pprof protobuf
// profile, the third output format next to callgrind and dot.
package pprofout

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"
	"github.com/via/orbuculum/trace/calltree"
	"github.com/via/orbuculum/trace/symbols"
)

// Converter accumulates subcall records into a pprof profile. Functions
// and locations are deduplicated by symbol-cache index so repeated
// invocations share identity.
type Converter struct {
	cache     *symbols.Cache
	functions map[uint32]*profile.Function
	locations map[uint32]*profile.Location
	nextID    uint64

	protobuf *profile.Profile
}

// New creates a converter for the binary at objPath. durationCycles is the
// captured extent of the trace, recorded as the profile duration.
func New(cache *symbols.Cache, objPath string, durationCycles uint64) *Converter {
	mapping := &profile.Mapping{
		ID:             1,
		File:           objPath,
		HasFunctions:   true,
		HasFilenames:   true,
		HasLineNumbers: true,
	}

	return &Converter{
		cache:     cache,
		functions: make(map[uint32]*profile.Function),
		locations: make(map[uint32]*profile.Location),
		protobuf: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "cpu", Unit: "cycles"},
				{Type: "calls", Unit: "count"},
			},
			DefaultSampleType: "cpu",
			PeriodType:        &profile.ValueType{Type: "cpu", Unit: "cycles"},
			Period:            1,
			TimeNanos:         time.Now().UnixNano(),
			DurationNanos:     int64(durationCycles),
			Mapping:           []*profile.Mapping{mapping},
		},
	}
}

// Convert folds the whole subcalls table into the profile. Each record
// becomes one two-frame sample, callee leaf first, valued with the
// record's exclusive cost. Records whose addresses cannot be resolved are
// skipped; they only arise from synthetic entry sentinels.
func (c *Converter) Convert(subs []calltree.Subcall) *profile.Profile {
	for _, sub := range subs {
		callee, okCallee := c.cache.Resolve(sub.Callee)
		caller, okCaller := c.cache.Resolve(sub.Caller)
		if !okCallee || !okCaller {
			continue
		}

		c.protobuf.Sample = append(c.protobuf.Sample, &profile.Sample{
			Location: []*profile.Location{
				c.location(callee),
				c.location(caller),
			},
			Value: []int64{int64(sub.Exclusive), 1},
		})
	}
	return c.protobuf
}

// Write serializes the accumulated profile to w in compressed protobuf
// form.
func (c *Converter) Write(w io.Writer) error {
	if err := c.protobuf.Write(w); err != nil {
		return fmt.Errorf("write pprof: %w", err)
	}
	return nil
}

func (c *Converter) location(e *symbols.Entry) *profile.Location {
	if loc, found := c.locations[e.Index]; found {
		return loc
	}

	fn, found := c.functions[e.Index]
	if !found {
		c.nextID++
		fn = &profile.Function{
			ID:         c.nextID,
			Name:       e.Function,
			SystemName: e.Function,
			Filename:   e.File,
			StartLine:  int64(e.Line),
		}
		c.functions[e.Index] = fn
		c.protobuf.Function = append(c.protobuf.Function, fn)
	}

	c.nextID++
	loc := &profile.Location{
		ID:      c.nextID,
		Mapping: c.protobuf.Mapping[0],
		Address: uint64(e.Address),
		Line: []profile.Line{
			{Function: fn, Line: int64(e.Line)},
		},
	}
	c.locations[e.Index] = loc
	c.protobuf.Location = append(c.protobuf.Location, loc)
	return loc
}
