package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

// Rdtsc returns a monotonic timestamp used in place of a real cycle
// counter. Biscuit's runtime.Rdtsc hooked a forked-runtime intrinsic
// unavailable to a hosted build; time.Now().UnixNano() plays the same
// "before/after" role for Cycles_t.Add's elapsed-time accounting.
func Rdtsc() uint64 {
	if Stats {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds an elapsed-time accumulator, in nanoseconds despite the
// name (see Rdtsc).
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Add adds elapsed time to the counter.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(Rdtsc()-m))
	}
}

// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

// Prometheus gauges exported alongside the lightweight Counter_t/
// Cycles_t scheme above, wired from sched/pagecache/mem at boot.
var (
	SchedTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_sched_ticks_total",
		Help: "Timer-driven scheduling decisions made across all CPUs.",
	})
	SchedSteals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_sched_steals_total",
		Help: "Tasks picked up via work stealing from another CPU's run queue.",
	})
	PagecacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_pagecache_hits_total",
		Help: "Page cache lookups served without a backing-store read.",
	})
	PagecacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nucleus_pagecache_misses_total",
		Help: "Page cache lookups that required a backing-store read.",
	})
	FreePages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nucleus_mem_free_pages",
		Help: "Free pages remaining across all zones.",
	})
)

// Registry returns a registry with every nucleus metric registered,
// ready to be exposed by an HTTP handler in cmd/nucleusd.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(SchedTicks, SchedSteals, PagecacheHits, PagecacheMisses, FreePages)
	return r
}
