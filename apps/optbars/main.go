// Copyright 2023 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The optbars app downloads aggregate bars for an option contract over an
// arbitrary date range and prints them as a table with a brief close-price
// summary. The contract symbol may be given in any supported encoding; it is
// converted to the OCC-style form expected by the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/optiondata/aggs"
	"github.com/stockparfait/optiondata/dates"
	"github.com/stockparfait/optiondata/optsym"
	"github.com/stockparfait/optiondata/polygon"
	"github.com/stockparfait/optiondata/table"
	"gonum.org/v1/gonum/stat"

	toml "github.com/pelletier/go-toml/v2"
)

type Flags struct {
	Config     string // default: ~/.optiondata/config.toml
	Symbol     string // required; any supported symbol encoding
	From       string // required; YYYY-MM-DD
	To         string // required; YYYY-MM-DD
	Timespan   string
	Multiplier int
	Sequential bool // disable the parallel chunk fetch
	CSV        bool // dump CSV format; default: text
	LogLevel   logging.Level
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("optbars", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config",
		filepath.Join(os.Getenv("HOME"), ".optiondata", "config.toml"),
		"path to the config file")
	fs.StringVar(&flags.Symbol, "symbol", "",
		"option symbol in any supported encoding (required)")
	fs.StringVar(&flags.From, "from", "", "start date, YYYY-MM-DD (required)")
	fs.StringVar(&flags.To, "to", "", "end date, YYYY-MM-DD (required)")
	fs.StringVar(&flags.Timespan, "timespan", "day",
		"bar timespan: minute, hour, day, week, month, quarter, year")
	fs.IntVar(&flags.Multiplier, "multiplier", 1, "timespan multiplier")
	fs.BoolVar(&flags.Sequential, "sequential", false,
		"fetch range chunks one at a time")
	fs.BoolVar(&flags.CSV, "csv", false, "print table in CSV format; default: text")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.Symbol == "" {
		return nil, errors.Reason("missing required -symbol argument")
	}
	if flags.From == "" || flags.To == "" {
		return nil, errors.Reason("missing required -from or -to argument")
	}
	return &flags, nil
}

type Config struct {
	Key            string `toml:"key"`             // the API key
	MaxWorkers     int    `toml:"max_workers"`     // parallel fetch pool size
	HighVolatility bool   `toml:"high_volatility"` // use smaller range chunks
}

func parseConfig(filePath string) (*Config, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", filePath)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	var c Config
	if err := d.Decode(&c); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", filePath)
	}
	if c.Key == "" {
		return nil, errors.Reason("config file %s has no API key", filePath)
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	return &c, nil
}

// occSymbol normalizes a symbol in any supported encoding to the OCC-style
// form. An unrecognized encoding is an error rather than a guess.
func occSymbol(symbol string) (string, error) {
	switch optsym.Detect(symbol) {
	case optsym.OCC:
		return symbol, nil
	case optsym.BrokerUnderscore, optsym.BrokerDot:
		converted, err := optsym.Convert(symbol, optsym.OCC)
		if err != nil {
			return "", errors.Annotate(err, "failed to convert symbol '%s'", symbol)
		}
		return converted, nil
	}
	return "", errors.Reason("unrecognized symbol format: '%s'", symbol)
}

// barRow adapts a polygon.Bar to a table.Row.
type barRow polygon.Bar

var _ table.Row = barRow{}

func barHeader() []string {
	return []string{"time", "open", "high", "low", "close", "volume", "vwap", "samples"}
}

func (b barRow) CSV() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		time.UnixMilli(b.Timestamp).UTC().Format("2006-01-02 15:04"),
		f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume), f(b.VWAP),
		strconv.Itoa(b.Samples),
	}
}

func printSummary(w io.Writer, bars []polygon.Bar) {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	fmt.Fprintf(w, "\nbars: %d\n", len(bars))
	if len(closes) == 0 {
		return
	}
	fmt.Fprintf(w, "mean close: %.4f\n", stat.Mean(closes, nil))
	if len(closes) > 1 {
		fmt.Fprintf(w, "close stdev: %.4f\n", stat.StdDev(closes, nil))
	}
}

func printBars(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.Config)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	ctx = polygon.UseClient(ctx, config.Key)

	symbol, err := occSymbol(flags.Symbol)
	if err != nil {
		return err
	}
	parsed, err := optsym.Parse(symbol)
	if err != nil {
		return errors.Annotate(err, "failed to parse symbol '%s'", symbol)
	}
	contractType := "call"
	if parsed.Type == optsym.Put {
		contractType = "put"
	}
	fmt.Fprintf(w, "%s %s %s expiring %s\n\n", parsed.Underlying, contractType,
		strconv.FormatFloat(parsed.Strike, 'f', -1, 64), parsed.Expiry)
	from, err := dates.NewDateFromString(flags.From)
	if err != nil {
		return errors.Annotate(err, "invalid -from date")
	}
	to, err := dates.NewDateFromString(flags.To)
	if err != nil {
		return errors.Annotate(err, "invalid -to date")
	}
	bars, err := polygon.FullRangeAggregateBars(ctx, symbol,
		dates.NewRange(from, to),
		polygon.AggsQuery{
			Multiplier: flags.Multiplier,
			Timespan:   aggs.Timespan(flags.Timespan),
		},
		polygon.FullRangeOptions{
			Parallel:       !flags.Sequential,
			MaxWorkers:     config.MaxWorkers,
			HighVolatility: config.HighVolatility,
		})
	if err != nil {
		return errors.Annotate(err, "failed to fetch bars for %s", symbol)
	}

	tbl := table.NewTable(barHeader()...)
	for _, b := range bars {
		tbl.AddRow(barRow(b))
	}
	if flags.CSV {
		if err := tbl.WriteCSV(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print CSV")
		}
	} else {
		if err := tbl.WriteText(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print text")
		}
	}
	printSummary(w, bars)
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := printBars(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
