package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/srikhai/wastetrack/internal/schema"
)

// Municipality is named in every prompt.
const Municipality = "Mueang Sri Khai Subdistrict Municipality, Ubon Ratchathani"

// Per-capita generation band considered normal, kg/person/day.
const (
	normalRateLow  = 0.8
	normalRateHigh = 1.2
)

var thaiMonths = [12]string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

// MonthName returns the Thai month name for m (1-12).
func MonthName(m int) string {
	if m < 1 || m > 12 {
		return fmt.Sprintf("month %d", m)
	}
	return thaiMonths[m-1]
}

// byPeriod sorts a copy of records oldest first.
func byPeriod(records []schema.WasteRecord) []schema.WasteRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b schema.WasteRecord) int {
		if c := cmp.Compare(a.Year, b.Year); c != 0 {
			return c
		}
		return cmp.Compare(a.Month, b.Month)
	})
	return sorted
}

func tonnes(kg float64) string {
	return fmt.Sprintf("%.2f t", kg/1000)
}

func total(records []schema.WasteRecord) float64 {
	var sum float64
	for _, r := range records {
		sum += r.AmountKg
	}
	return sum
}

// annualRate approximates kg/person/day over a year of records.
func annualRate(records []schema.WasteRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var pop int
	for _, r := range records {
		pop += r.Population
	}
	avgPop := float64(pop) / float64(len(records))
	if avgPop <= 0 {
		return 0
	}
	return total(records) / 12 / 30 / avgPop
}

func mayorPrompt(records []schema.WasteRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the environmental and waste management adviser to %s.\n\n", Municipality)
	b.WriteString("Task: write an executive report for the mayor.\n\nMonthly statistics:\n")
	for _, r := range byPeriod(records) {
		fmt.Fprintf(&b, "- %s %d: %s (%.3f kg/person/day)\n",
			MonthName(r.Month), r.Year, tonnes(r.AmountKg), r.PerCapitaDaily())
	}
	b.WriteString(`
Report structure (Markdown):

## 1. Executive Summary
Overall direction of waste volume and whether the per capita generation rate is above or below the 1.0-1.2 benchmark.

## 2. Efficiency Analysis
- The peak month and its likely causes (festivals, school terms)
- Collection workload comparison

## 3. Risk Assessment
- Landfill capacity risk
- Budget risk

## 4. Strategic Recommendations
Three concrete measures that reduce waste at source, such as a waste bank or wet-waste separation.

Style: professional, concise, data-dense. Write in Thai.
`)
	return b.String()
}

func insightPrompt(latest, prev schema.WasteRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an environmental management expert for %s.\n\n", Municipality)
	fmt.Fprintf(&b, "Latest situation (%s %d):\n", MonthName(latest.Month), latest.Year)
	fmt.Fprintf(&b, "- Waste volume: %s", tonnes(latest.AmountKg))
	if prev.AmountKg > 0 {
		change := (latest.AmountKg - prev.AmountKg) / prev.AmountKg * 100
		fmt.Fprintf(&b, " (%+.1f%% vs %s %d)", change, MonthName(prev.Month), prev.Year)
	}
	fmt.Fprintf(&b, "\n- Generation rate: %.3f kg/person/day (normal range %.1f - %.1f)\n\n",
		latest.PerCapitaDaily(), normalRateLow, normalRateHigh)
	fmt.Fprintf(&b, `Tasks:
1. Assess whether the waste generation rate is healthy or concerning.
2. If it exceeds %.1f kg/person/day, flag disposal behaviour or special events in the area.
3. Recommend one short measure.

Answer in Thai in at most 2-3 sentences, focused on efficiency.
`, normalRateHigh)
	return b.String()
}

func comparisonPrompt(year1 int, records1 []schema.WasteRecord, year2 int, records2 []schema.WasteRecord) string {
	total1, total2 := total(records1), total(records2)
	var b strings.Builder
	fmt.Fprintf(&b, "Compare municipal waste for %s:\n", Municipality)
	fmt.Fprintf(&b, "Year %d: total %s (average %.3f kg/person/day)\n", year1, tonnes(total1), annualRate(records1))
	fmt.Fprintf(&b, "Year %d: total %s (average %.3f kg/person/day)\n", year2, tonnes(total2), annualRate(records2))
	if total2 > 0 {
		fmt.Fprintf(&b, "Difference: %+.1f%%\n", (total1-total2)/total2*100)
	}
	b.WriteString("\nAssess whether waste management efficiency improved or worsened, using the totals and generation rates. Answer in Thai in 2-3 sentences.\n")
	return b.String()
}
