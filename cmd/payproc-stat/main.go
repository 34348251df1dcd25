// Command payproc-stat aggregates payprocd's rotated journal files into
// per-month and per-year charge counts and Euro totals, printed one line
// per month as "YEAR:MONTH::N:EURO:NYR:EUROYR:".
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gnupg/payproc/internal/journal"
)

type monthKey struct {
	year, month int
}

func main() {
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: payproc-stat FILE...")
		os.Exit(2)
	}

	counts := map[monthKey]int{}
	totals := map[monthKey]float64{}

	for _, name := range files {
		if err := scanFile(name, counts, totals); err != nil {
			fmt.Fprintf(os.Stderr, "payproc-stat: %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	printStats(counts, totals)
}

func scanFile(name string, counts map[monthKey]int, totals map[monthKey]float64) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec, err := journal.ParseLine(scanner.Text())
		if err != nil || rec.Type != journal.TypeCharge {
			continue
		}
		ts, err := time.Parse(journal.TimestampLayout, rec.Timestamp)
		if err != nil {
			continue
		}
		amount, err := strconv.ParseFloat(rec.EuroAmount, 64)
		if err != nil {
			continue
		}
		k := monthKey{ts.Year(), int(ts.Month())}
		counts[k]++
		totals[k] += amount
	}
	return scanner.Err()
}

func printStats(counts map[monthKey]int, totals map[monthKey]float64) {
	keys := make([]monthKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	var yearCount int
	var yearTotal float64
	currentYear := 0
	for _, k := range keys {
		if k.year != currentYear {
			currentYear = k.year
			yearCount = 0
			yearTotal = 0
		}
		yearCount += counts[k]
		yearTotal += totals[k]
		fmt.Printf("%d:%d::%d:%.2f:%d:%.2f:\n", k.year, k.month, counts[k], totals[k], yearCount, yearTotal)
	}
}
