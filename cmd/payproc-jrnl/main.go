// Command payproc-jrnl counts or prints fields from payprocd's rotated
// journal files. It is a thin post-processor: the original tool's
// select-expression language (numeric/regex field matching) is out of
// scope here, left for an operator to pipe through grep/awk instead.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gnupg/payproc/internal/journal"
)

type fieldList []string

func (f *fieldList) String() string { return strings.Join(*f, ",") }
func (f *fieldList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	count := flag.Bool("count", false, "count selected records")
	print := flag.Bool("print", false, "print fields from selected records")
	var fields fieldList
	flag.Var(&fields, "field", "output field name, e.g. date, type, amount, mail (repeatable)")
	separator := flag.String("separator", ":", "output field separator")
	flag.Parse()

	if *count && *print {
		fmt.Fprintln(os.Stderr, "payproc-jrnl: --count and --print are mutually exclusive")
		os.Exit(2)
	}
	if !*count && !*print {
		*count = true
	}

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: payproc-jrnl [--count|--print] [--field NAME]... FILE...")
		os.Exit(2)
	}

	var total int
	for _, name := range files {
		n, err := processFile(name, *print, fields, *separator)
		if err != nil {
			fmt.Fprintf(os.Stderr, "payproc-jrnl: %s: %v\n", name, err)
			os.Exit(1)
		}
		total += n
	}
	if *count {
		fmt.Println(total)
	}
}

func processFile(name string, print bool, fields fieldList, sep string) (int, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var n int
	scanner := bufio.NewScanner(f)
	for lnr := 1; scanner.Scan(); lnr++ {
		rec, err := journal.ParseLine(scanner.Text())
		if err != nil {
			continue
		}
		n++
		if print {
			printRecord(rec, lnr, fields, sep)
		}
	}
	return n, scanner.Err()
}

func printRecord(rec journal.Record, lnr int, fields fieldList, sep string) {
	if len(fields) == 0 {
		fmt.Println(rec.Raw)
		return
	}
	out := make([]string, 0, len(fields))
	for _, name := range fields {
		out = append(out, rec.Field(name, lnr))
	}
	fmt.Println(strings.Join(out, sep))
}
