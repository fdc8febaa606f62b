package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// rowRecords turns a CSV document into one embeddable record per data row,
// "header: value, header: value, ...". A single concatenated blob would lose
// row-level retrievability and can blow the embedding input limit. Missing
// values are imputed first: numeric columns with the column median, text
// columns with the column mode.
func rowRecords(data []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	body := rows[1:]
	fills := columnFills(header, body)

	records := make([]string, 0, len(body))
	for _, row := range body {
		parts := make([]string, 0, len(header))
		for col, name := range header {
			val := ""
			if col < len(row) {
				val = strings.TrimSpace(row[col])
			}
			if val == "" {
				val = fills[col]
			}
			parts = append(parts, fmt.Sprintf("%s: %s", strings.TrimSpace(name), val))
		}
		records = append(records, strings.Join(parts, ", "))
	}
	return records, nil
}

func columnFills(header []string, body [][]string) []string {
	fills := make([]string, len(header))
	for col := range header {
		var present []string
		for _, row := range body {
			if col < len(row) {
				if v := strings.TrimSpace(row[col]); v != "" {
					present = append(present, v)
				}
			}
		}
		if len(present) == 0 {
			continue
		}
		if nums, ok := asNumbers(present); ok {
			fills[col] = formatNumber(median(nums))
			continue
		}
		fills[col] = mode(present)
	}
	return fills
}

func asNumbers(values []string) ([]float64, bool) {
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil {
			return nil, false
		}
		nums = append(nums, f)
	}
	return nums, true
}

func median(nums []float64) float64 {
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// mode picks the most frequent value; ties break toward first occurrence.
func mode(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := "", 0
	for _, v := range values {
		counts[v]++
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
