package currency

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// FileSource is a RateSource backed by a cron-refreshed file of "CODE =
// rate" lines (one per currency, '#' for comments), matching the format
// read_exchange_rates parses. Lines that don't parse are skipped rather
// than aborting the whole reload, mirroring the original's per-line
// log-and-continue behavior.
type FileSource struct {
	Path string
}

func (f FileSource) Rates() (map[string]float64, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rates := make(map[string]float64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		code, rest, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		rate, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil || rate <= 0.0 || rate > 10000.0 {
			continue
		}
		rates[code] = rate
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}
