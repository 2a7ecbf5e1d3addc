package fetch

import (
	"maps"
	"math"
	"sync"
	"time"
)

// durationSlots are reported with a zero count before the first attempt,
// so diagnostics always show the common buckets.
const durationSlots = 10

// retrySlots covers every position of the longest canonical order.
var retrySlots = maxPositions(OrderConfig, OrderInit, OrderNext, OrderChange)

func maxPositions(orders ...Order) int {
	n := 0
	for _, o := range orders {
		n = max(n, len(o.Methods))
	}
	return n
}

// Statistics counts how attempts concluded. Counters only grow.
type Statistics struct {
	mu        sync.Mutex
	retries   map[int]int
	durations map[int]int
	fetch     map[string]int
}

// NewStatistics creates counters with the common buckets pre-populated.
func NewStatistics() *Statistics {
	s := &Statistics{
		retries:   make(map[int]int),
		durations: make(map[int]int),
		fetch:     map[string]int{string(MethodWeb): 0, string(MethodCache): 0},
	}
	for i := 0; i < retrySlots; i++ {
		s.retries[i] = 0
	}
	for i := 0; i < durationSlots; i++ {
		s.durations[i] = 0
	}
	return s
}

// Record counts one concluded attempt. method is empty when the attempt
// failed.
func (s *Statistics) Record(retry int, elapsed time.Duration, method Method) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retries[retry]++
	s.durations[int(math.Round(elapsed.Seconds()))]++
	if method != "" {
		s.fetch[string(method)]++
	}
}

// Distribution is a set of counters with their share of the total.
type Distribution[K comparable] struct {
	Counter map[K]int     `json:"counter"`
	Percent map[K]float64 `json:"percent"`
}

// Report is a point in time copy of the statistics.
type Report struct {
	Retries   Distribution[int]    `json:"retries"`
	Durations Distribution[int]    `json:"durations"`
	Fetch     Distribution[string] `json:"fetch"`
}

// Report returns the counters and their percentages, rounded to two
// decimals. An empty counter set reports zero percent everywhere.
func (s *Statistics) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{
		Retries:   distribution(s.retries),
		Durations: distribution(s.durations),
		Fetch:     distribution(s.fetch),
	}
}

func distribution[K comparable](counter map[K]int) Distribution[K] {
	total := 0
	for _, n := range counter {
		total += n
	}
	if total == 0 {
		total = 1
	}

	d := Distribution[K]{
		Counter: maps.Clone(counter),
		Percent: make(map[K]float64, len(counter)),
	}
	for k, n := range counter {
		d.Percent[k] = math.Round(10000*float64(n)/float64(total)) / 100
	}
	return d
}
