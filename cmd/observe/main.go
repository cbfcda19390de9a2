// Command observe runs a fresh observer session over OHLCV bars read from CSV
// (timestamp,open,high,low,close,volume) and prints one record per bar.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"TAMObserver/internal/domain/models"
	"TAMObserver/internal/services/admissibility"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("observe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	frictionFloor := fs.Float64("friction-floor", 0, "minimum round-trip cost as a fraction of price")
	minMove := fs.Float64("min-move", 0, "minimum useful move as a fraction of price")
	format := fs.String("format", "table", "output format: table or json")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *format != "table" && *format != "json" {
		fmt.Fprintf(stderr, "unknown format %q\n", *format)
		return exitUsage
	}

	obs, err := admissibility.New(*frictionFloor, *minMove)
	if err != nil {
		fmt.Fprintf(stderr, "constraints: %v\n", err)
		return exitUsage
	}

	in := stdin
	if path := fs.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(stderr, "open input: %v\n", err)
			return exitFailed
		}
		defer f.Close()
		in = f
	}

	out := newPrinter(*format, stdout)
	session := obs.NewSession()
	r := csv.NewReader(in)
	r.FieldsPerRecord = 6
	r.TrimLeadingSpace = true

	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				fmt.Fprintf(stderr, "line %d: rejected: %v\n", line, err)
				continue
			}
			fmt.Fprintf(stderr, "read input: %v\n", err)
			return exitFailed
		}
		if line == 1 && strings.EqualFold(row[0], "timestamp") {
			continue
		}
		bar, err := parseBar(row)
		if err == nil {
			var rec models.ObservationRecord
			if rec, err = session.Observe(bar); err == nil {
				if err := out.print(rec); err != nil {
					fmt.Fprintf(stderr, "write output: %v\n", err)
					return exitFailed
				}
				continue
			}
		}
		fmt.Fprintf(stderr, "line %d: rejected: %v\n", line, err)
	}
	if err := out.flush(); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return exitFailed
	}
	return exitOK
}

func parseBar(row []string) (models.Bar, error) {
	var vals [5]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		vals[i] = v
	}
	return models.Bar{
		Timestamp: strings.TrimSpace(row[0]),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

type printer struct {
	json *json.Encoder
	tab  *tabwriter.Writer
	head bool
}

func newPrinter(format string, w io.Writer) *printer {
	if format == "json" {
		return &printer{json: json.NewEncoder(w)}
	}
	return &printer{tab: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (p *printer) print(rec models.ObservationRecord) error {
	if p.json != nil {
		return p.json.Encode(rec)
	}
	if !p.head {
		p.head = true
		if _, err := fmt.Fprintln(p.tab, "TIMESTAMP\tSTATE\tMODE\tM_REQ\tCOMPRESSION\tSLOPE\tPERSISTENCE\tEVENT"); err != nil {
			return err
		}
	}
	d := rec.Diagnostics
	event := rec.BoundaryEvent
	if rec.InvalidationReason != "" {
		event = strings.TrimSpace(event + " " + rec.InvalidationReason)
	}
	_, err := fmt.Fprintf(p.tab, "%s\t%s\t%s\t%.6g\t%.4f\t%.4f\t%.4f\t%s\n",
		rec.Timestamp, rec.State, rec.DominantMode, rec.MReq,
		d[models.DiagBasinCompression], d[models.DiagEscapeSlope], d[models.DiagPersistence], event)
	return err
}

func (p *printer) flush() error {
	if p.tab != nil {
		return p.tab.Flush()
	}
	return nil
}
