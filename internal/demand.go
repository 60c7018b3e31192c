package internal

import (
	"log"
	"math"
	"sort"
	"time"
)

// Strategy picks how demand patterns are computed. The approximate and
// chunked tiers trade statistical fidelity (median reuses the mean, trend
// slope is forced to zero) for bounded memory and runtime on large files.
type Strategy int

const (
	StrategyExact Strategy = iota
	StrategyApproximate
	StrategyChunked
)

func (s Strategy) String() string {
	switch s {
	case StrategyApproximate:
		return "approximate"
	case StrategyChunked:
		return "chunked"
	default:
		return "exact"
	}
}

// Row-count and file-size boundaries for strategy selection. These mirror
// the batch limits tuned in production: exact processing is increasingly
// throttled above 20k/50k rows and abandoned entirely past 100k rows or
// 100 MB of input.
const (
	SmallRowLimit  = 20_000
	MediumRowLimit = 50_000
	LargeRowLimit  = 100_000

	MediumFileBytes    = 20 * 1024 * 1024
	LargeFileBytes     = 50 * 1024 * 1024
	VeryLargeFileBytes = 100 * 1024 * 1024

	DefaultChunkRows = 30_000
)

// Run timeouts per tier. When the budget is spent the aggregator returns
// whatever patterns it has finished instead of failing the batch.
const (
	SmallRunTimeout  = 5 * time.Minute
	MediumRunTimeout = 4 * time.Minute
	LargeRunTimeout  = 3 * time.Minute
)

// AggregationOptions tunes one aggregation run. Zero values select the
// defaults for the exact strategy.
type AggregationOptions struct {
	Strategy    Strategy
	MaxProducts int
	Timeout     time.Duration
}

// ChooseStrategy maps input size onto a strategy plus its tier limits.
func ChooseStrategy(rowCount int, fileSizeBytes int64) AggregationOptions {
	switch {
	case rowCount > LargeRowLimit || fileSizeBytes > VeryLargeFileBytes:
		return AggregationOptions{Strategy: StrategyChunked, Timeout: LargeRunTimeout}
	case rowCount > MediumRowLimit || fileSizeBytes > LargeFileBytes:
		return AggregationOptions{Strategy: StrategyApproximate, MaxProducts: 2000, Timeout: LargeRunTimeout}
	case rowCount > SmallRowLimit || fileSizeBytes > MediumFileBytes:
		return AggregationOptions{Strategy: StrategyExact, MaxProducts: 5000, Timeout: MediumRunTimeout}
	default:
		return AggregationOptions{Strategy: StrategyExact, Timeout: SmallRunTimeout}
	}
}

// DemandPattern summarizes one (customer, facility, product) order time
// series. AvgDaysBetweenOrders is NaN when fewer than two orders exist.
type DemandPattern struct {
	CustomerID   string
	FacilityID   string
	ProductID    string
	ProductName  string
	CategoryName string
	VendorName   string

	TotalOrders            int
	AvgQuantity            float64
	StdQuantity            float64
	MaxQuantity            float64
	MinQuantity            float64
	MedianQuantity         float64
	CoefficientOfVariation float64
	TrendSlope             float64
	AvgDaysBetweenOrders   float64
	FirstOrderDate         string
	LastOrderDate          string
}

type seriesKey struct {
	customer string
	facility string
	product  string
}

type dailyPoint struct {
	date     string
	quantity float64
}

type series struct {
	key          seriesKey
	productName  string
	categoryName string
	vendorName   string
	points       []dailyPoint
}

// aggregateDaily collapses raw records to one point per series per
// calendar day, summing units (or counting rows when no units column
// exists — ParseOrders sets Units=1 in that case). Records without a
// parseable date are skipped here; the validator reports them.
func aggregateDaily(records []OrderRecord, cols ColumnSet) []series {
	byKey := make(map[seriesKey]*series)
	var order []seriesKey
	for _, r := range records {
		if !r.HasDate {
			continue
		}
		key := seriesKey{r.CustomerID, r.FacilityID, r.ProductID}
		s, ok := byKey[key]
		if !ok {
			s = &series{key: key}
			byKey[key] = s
			order = append(order, key)
		}
		if s.productName == "" && r.ProductName != "" {
			s.productName = r.ProductName
		}
		if s.categoryName == "" && r.CategoryName != "" {
			s.categoryName = r.CategoryName
		}
		if s.vendorName == "" && r.VendorName != "" {
			s.vendorName = r.VendorName
		}
		day := r.OrderDate.Format(dateKeyFormat)
		if n := len(s.points); n > 0 && s.points[n-1].date == day {
			s.points[n-1].quantity += r.Units
			continue
		}
		s.points = append(s.points, dailyPoint{date: day, quantity: r.Units})
	}

	out := make([]series, 0, len(order))
	for _, key := range order {
		s := byKey[key]
		sort.Slice(s.points, func(i, j int) bool { return s.points[i].date < s.points[j].date })
		// Merge duplicate days that were not adjacent in the input.
		merged := s.points[:0]
		for _, p := range s.points {
			if n := len(merged); n > 0 && merged[n-1].date == p.date {
				merged[n-1].quantity += p.quantity
				continue
			}
			merged = append(merged, p)
		}
		s.points = merged
		out = append(out, *s)
	}
	return out
}

// seriesStats holds the shared statistical core used by every strategy,
// so the tiers cannot drift apart on formulas.
type seriesStats struct {
	count  int
	mean   float64
	std    float64
	min    float64
	max    float64
	median float64
	cv     float64
	slope  float64
}

func computeStats(quantities []float64, exactMedianAndTrend bool) seriesStats {
	n := len(quantities)
	st := seriesStats{count: n}
	if n == 0 {
		return st
	}

	sum := 0.0
	st.min = quantities[0]
	st.max = quantities[0]
	for _, q := range quantities {
		sum += q
		if q < st.min {
			st.min = q
		}
		if q > st.max {
			st.max = q
		}
	}
	st.mean = sum / float64(n)

	if n > 1 {
		var ss float64
		for _, q := range quantities {
			d := q - st.mean
			ss += d * d
		}
		st.std = math.Sqrt(ss / float64(n)) // population std
	}

	if st.mean > 0 {
		st.cv = st.std / st.mean
	}

	if exactMedianAndTrend {
		st.median = exactMedian(quantities)
		// A 2-point fit is ill-conditioned for trend purposes, so the
		// slope is only computed from 3 points up. This threshold is
		// load-bearing for downstream forecast features; do not "fix" it.
		if n > 2 {
			st.slope = linearSlope(quantities)
		}
	} else {
		// Approximate tier: median reuses the mean, slope stays zero.
		st.median = st.mean
	}
	return st
}

func exactMedian(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// linearSlope fits quantity against its 0..n-1 time index with ordinary
// least squares and returns the first-degree coefficient.
func linearSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

func daysBetween(first, last string) float64 {
	f, err1 := time.Parse(dateKeyFormat, first)
	l, err2 := time.Parse(dateKeyFormat, last)
	if err1 != nil || err2 != nil {
		return 0
	}
	return l.Sub(f).Hours() / 24
}

// ComputeDemandPatterns turns normalized records into one DemandPattern
// per (customer, facility, product) key using the requested strategy.
// Empty or dateless groups are skipped, never failed. When the run
// timeout expires the patterns finished so far are returned.
func ComputeDemandPatterns(records []OrderRecord, cols ColumnSet, opts AggregationOptions) []DemandPattern {
	if opts.Timeout <= 0 {
		opts.Timeout = SmallRunTimeout
	}
	switch opts.Strategy {
	case StrategyApproximate:
		return approximatePatterns(records, cols, opts)
	default:
		return exactPatterns(records, cols, opts)
	}
}

func exactPatterns(records []OrderRecord, cols ColumnSet, opts AggregationOptions) []DemandPattern {
	start := time.Now()
	groups := aggregateDaily(records, cols)
	if opts.MaxProducts > 0 && len(groups) > opts.MaxProducts {
		log.Printf("demand: %d product combinations exceed limit, keeping first %d", len(groups), opts.MaxProducts)
		groups = groups[:opts.MaxProducts]
	}

	patterns := make([]DemandPattern, 0, len(groups))
	for _, g := range groups {
		if time.Since(start) > opts.Timeout {
			log.Printf("demand: timeout after %s, returning %d/%d patterns", opts.Timeout, len(patterns), len(groups))
			break
		}
		if len(g.points) == 0 {
			continue
		}
		quantities := make([]float64, len(g.points))
		for i, p := range g.points {
			quantities[i] = p.quantity
		}
		st := computeStats(quantities, true)

		p := DemandPattern{
			CustomerID:             g.key.customer,
			FacilityID:             g.key.facility,
			ProductID:              g.key.product,
			ProductName:            g.productName,
			CategoryName:           g.categoryName,
			VendorName:             g.vendorName,
			TotalOrders:            st.count,
			AvgQuantity:            st.mean,
			StdQuantity:            st.std,
			MaxQuantity:            st.max,
			MinQuantity:            st.min,
			MedianQuantity:         st.median,
			CoefficientOfVariation: st.cv,
			TrendSlope:             st.slope,
			FirstOrderDate:         g.points[0].date,
			LastOrderDate:          g.points[len(g.points)-1].date,
		}
		if st.count > 1 {
			p.AvgDaysBetweenOrders = daysBetween(p.FirstOrderDate, p.LastOrderDate) / float64(st.count-1)
		} else {
			p.AvgDaysBetweenOrders = math.NaN()
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// approximatePatterns runs a single grouped pass over raw rows (not the
// daily rollup) with running accumulators. Median is approximated by the
// mean and trend slope is reported as zero — a documented fidelity
// reduction for large inputs.
func approximatePatterns(records []OrderRecord, cols ColumnSet, opts AggregationOptions) []DemandPattern {
	type acc struct {
		count                int
		sum, sumSq           float64
		min, max             float64
		first, last          string
		name, category, vend string
	}
	byKey := make(map[seriesKey]*acc)
	var order []seriesKey

	for _, r := range records {
		if !r.HasDate {
			continue
		}
		key := seriesKey{r.CustomerID, r.FacilityID, r.ProductID}
		a, ok := byKey[key]
		if !ok {
			if opts.MaxProducts > 0 && len(order) >= opts.MaxProducts {
				continue
			}
			a = &acc{min: math.Inf(1), max: math.Inf(-1)}
			byKey[key] = a
			order = append(order, key)
		}
		day := r.OrderDate.Format(dateKeyFormat)
		a.count++
		a.sum += r.Units
		a.sumSq += r.Units * r.Units
		if r.Units < a.min {
			a.min = r.Units
		}
		if r.Units > a.max {
			a.max = r.Units
		}
		if a.first == "" || day < a.first {
			a.first = day
		}
		if day > a.last {
			a.last = day
		}
		if a.name == "" {
			a.name = r.ProductName
		}
		if a.category == "" {
			a.category = r.CategoryName
		}
		if a.vend == "" {
			a.vend = r.VendorName
		}
	}

	patterns := make([]DemandPattern, 0, len(order))
	for _, key := range order {
		a := byKey[key]
		if a.count == 0 {
			continue
		}
		mean := a.sum / float64(a.count)
		var std float64
		if a.count > 1 {
			variance := a.sumSq/float64(a.count) - mean*mean
			if variance > 0 {
				std = math.Sqrt(variance)
			}
		}
		cv := 0.0
		if mean > 0 {
			cv = std / mean
		}
		p := DemandPattern{
			CustomerID:             key.customer,
			FacilityID:             key.facility,
			ProductID:              key.product,
			ProductName:            a.name,
			CategoryName:           a.category,
			VendorName:             a.vend,
			TotalOrders:            a.count,
			AvgQuantity:            mean,
			StdQuantity:            std,
			MaxQuantity:            a.max,
			MinQuantity:            a.min,
			MedianQuantity:         mean,
			CoefficientOfVariation: cv,
			TrendSlope:             0,
			FirstOrderDate:         a.first,
			LastOrderDate:          a.last,
		}
		if a.count > 1 {
			p.AvgDaysBetweenOrders = daysBetween(a.first, a.last) / float64(a.count-1)
		} else {
			p.AvgDaysBetweenOrders = math.NaN()
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// MergeChunkPatterns re-aggregates per-chunk approximate patterns into
// one pattern per key: counts sum, extremes take min/max, averaged stats
// are averaged again across chunks, and text fields keep the first-seen
// value. This is the second level of the two-level reduce that keeps
// memory bounded for arbitrarily large inputs.
func MergeChunkPatterns(chunks [][]DemandPattern) []DemandPattern {
	type merged struct {
		p         DemandPattern
		n         int
		sumAvg    float64
		sumStd    float64
		sumMedian float64
		sumCV     float64
		sumSlope  float64
		sumGap    float64
		gapN      int
	}
	byKey := make(map[seriesKey]*merged)
	var order []seriesKey

	for _, chunk := range chunks {
		for _, p := range chunk {
			key := seriesKey{p.CustomerID, p.FacilityID, p.ProductID}
			m, ok := byKey[key]
			if !ok {
				m = &merged{p: p}
				m.p.TotalOrders = 0
				byKey[key] = m
				order = append(order, key)
			}
			m.n++
			m.p.TotalOrders += p.TotalOrders
			m.sumAvg += p.AvgQuantity
			m.sumStd += p.StdQuantity
			m.sumMedian += p.MedianQuantity
			m.sumCV += p.CoefficientOfVariation
			m.sumSlope += p.TrendSlope
			if !math.IsNaN(p.AvgDaysBetweenOrders) {
				m.sumGap += p.AvgDaysBetweenOrders
				m.gapN++
			}
			if p.MinQuantity < m.p.MinQuantity {
				m.p.MinQuantity = p.MinQuantity
			}
			if p.MaxQuantity > m.p.MaxQuantity {
				m.p.MaxQuantity = p.MaxQuantity
			}
			if p.FirstOrderDate < m.p.FirstOrderDate {
				m.p.FirstOrderDate = p.FirstOrderDate
			}
			if p.LastOrderDate > m.p.LastOrderDate {
				m.p.LastOrderDate = p.LastOrderDate
			}
		}
	}

	out := make([]DemandPattern, 0, len(order))
	for _, key := range order {
		m := byKey[key]
		n := float64(m.n)
		m.p.AvgQuantity = m.sumAvg / n
		m.p.StdQuantity = m.sumStd / n
		m.p.MedianQuantity = m.sumMedian / n
		m.p.CoefficientOfVariation = m.sumCV / n
		m.p.TrendSlope = m.sumSlope / n
		if m.gapN > 0 {
			m.p.AvgDaysBetweenOrders = m.sumGap / float64(m.gapN)
		} else {
			m.p.AvgDaysBetweenOrders = math.NaN()
		}
		out = append(out, m.p)
	}
	return out
}
