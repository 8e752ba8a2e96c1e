package calc

import (
	"slices"

	"github.com/icodeforyou/elpris-go/types"
	"github.com/shopspring/decimal"
)

var (
	lowPercentile  = decimal.RequireFromString("33.333")
	highPercentile = decimal.RequireFromString("66.667")
	hundred        = decimal.NewFromInt(100)
	two            = decimal.NewFromInt(2)
	three          = decimal.NewFromInt(3)
)

// Tertiles holds the statistics of one ingestion batch.
type Tertiles struct {
	Median decimal.Decimal
	Low    decimal.Decimal // 33.333rd percentile
	High   decimal.Decimal // 66.667th percentile
}

func sortedCopy(prices []decimal.Decimal) []decimal.Decimal {
	sorted := slices.Clone(prices)
	slices.SortFunc(sorted, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	return sorted
}

// Median of prices, the mean of the two middle values for even counts.
// An empty slice yields zero.
func Median(prices []decimal.Decimal) decimal.Decimal {
	n := len(prices)
	if n == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(prices)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(two)
}

// Percentile interpolates linearly between the two ranks surrounding the
// fractional index (p/100)*(n-1). sorted must be ascending.
func Percentile(sorted []decimal.Decimal, p decimal.Decimal) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return sorted[0]
	}

	index := p.Div(hundred).Mul(decimal.NewFromInt(int64(n - 1)))
	lower := int(index.Floor().IntPart())
	upper := min(lower+1, n-1)
	if lower == upper {
		return sorted[lower]
	}

	fraction := index.Sub(decimal.NewFromInt(int64(lower)))
	return sorted[lower].Add(fraction.Mul(sorted[upper].Sub(sorted[lower])))
}

// TertileBoundaries returns the low and high tertile boundaries. Batches with
// fewer than three prices split the [min, max] range in equal thirds instead.
func TertileBoundaries(prices []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if len(prices) == 0 {
		return decimal.Zero, decimal.Zero
	}

	if len(prices) < 3 {
		lo, hi := decimal.Min(prices[0], prices[1:]...), decimal.Max(prices[0], prices[1:]...)
		if lo.Equal(hi) {
			return lo, hi
		}
		third := hi.Sub(lo).Div(three)
		return lo.Add(third), lo.Add(third.Mul(two))
	}

	sorted := sortedCopy(prices)
	return Percentile(sorted, lowPercentile), Percentile(sorted, highPercentile)
}

func NewTertiles(prices []decimal.Decimal) Tertiles {
	low, high := TertileBoundaries(prices)
	return Tertiles{
		Median: Median(prices),
		Low:    low,
		High:   high,
	}
}

// Categorize checks PREFER before AVOID, so when Low equals High a price on
// that boundary is PREFER.
func (t Tertiles) Categorize(price decimal.Decimal) types.Category {
	if price.LessThanOrEqual(t.Low) {
		return types.CategoryPrefer
	}
	if price.GreaterThanOrEqual(t.High) {
		return types.CategoryAvoid
	}
	return types.CategoryOkay
}

// Classify stamps the batch median and a category on every record in place.
// The statistics are derived from this batch alone.
func Classify(records []types.PriceRecord) Tertiles {
	prices := make([]decimal.Decimal, len(records))
	for i, r := range records {
		prices[i] = r.TotalPrice
	}

	t := NewTertiles(prices)
	for i := range records {
		records[i].MedianPrice = t.Median
		records[i].Category = t.Categorize(records[i].TotalPrice)
	}
	return t
}
