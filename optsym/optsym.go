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

// Package optsym encodes, decodes and converts option ticker symbols.
//
// Two encoding families are supported:
//
//   - the OCC-style encoding used by market data APIs:
//     {UNDERLYING}{YYMMDD}{C|P}{8-digit fixed-point strike},
//     optionally prefixed with the "O:" market marker, e.g.
//     "O:TSLA211015P00125000";
//   - a broker encoding with two textual variants:
//     underscore, "TSLA_211015P125", and dot, ".TSLA101521P125",
//     where the dot variant reorders the date digits as MMDDYY and the
//     strike is a plain number.
//
// All conversions between encodings round-trip through the parsed
// OptionSymbol value; there is no direct string transcoding.
package optsym

import (
	"strconv"
	"strings"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/optiondata/dates"
)

// Errors returned by the codec, to be tested with errors.Is.
var (
	// ErrMalformedExpiry indicates an expiry string of the wrong length or
	// with non-digit characters.
	ErrMalformedExpiry = errors.Reason("malformed expiry string")
	// ErrSymbolTooShort indicates a symbol below the minimum length for its
	// encoding.
	ErrSymbolTooShort = errors.Reason("option symbol is too short")
	// ErrUnknownFormat indicates that a definite symbol format was required
	// but could not be detected.
	ErrUnknownFormat = errors.Reason("unrecognized option symbol format")
)

// Format enumerates the known symbol encodings.
type Format int

const (
	Unknown Format = iota
	OCC
	BrokerUnderscore
	BrokerDot
)

// String representation of the format.
func (f Format) String() string {
	switch f {
	case OCC:
		return "occ"
	case BrokerUnderscore:
		return "broker-underscore"
	case BrokerDot:
		return "broker-dot"
	}
	return "unknown"
}

// Detect classifies a symbol string into one of the known encodings. It is a
// heuristic, not a strict grammar: callers requiring a definite format must
// treat Unknown as an error rather than guess.
func Detect(symbol string) Format {
	if strings.HasPrefix(symbol, ".") {
		return BrokerDot
	}
	if strings.Contains(symbol, "_") {
		return BrokerUnderscore
	}
	if strings.HasPrefix(symbol, "O:") || len(symbol) > 15 {
		return OCC
	}
	return Unknown
}

// OptionType is the contract type, call or put.
type OptionType string

const (
	Call = OptionType("C")
	Put  = OptionType("P")
)

// TypeFromString maps the case-insensitive strings "c" and "call" to Call,
// and everything else to Put. The everything-else-is-a-put behavior is a
// documented quirk of the encoding contract: a typo such as "cal" silently
// becomes a put. Callers wanting strict validation must check their input
// before calling.
func TypeFromString(s string) OptionType {
	switch strings.ToLower(s) {
	case "c", "call":
		return Call
	}
	return Put
}

// OptionSymbol is the parsed value of an option ticker symbol.
type OptionSymbol struct {
	Underlying string     // alphabetic ticker, digits stripped
	Expiry     dates.Date // contract expiration date
	Type       OptionType
	Strike     float64 // exact at 3 fractional digits
	Canonical  string  // normalized encoded form without any market prefix
}

// The OCC-style suffix is YYMMDD + C/P + an 8-digit strike.
const occSuffixLen = 15

// currentCentury returns the first year of the current century, e.g. 2000
// for any year 20xx. The codec maps 2-digit years by adding this value; see
// ParseWithCentury for the implications.
func currentCentury() uint16 {
	return uint16(time.Now().UTC().Year() / 100 * 100)
}

// formatStrikeFixed renders a strike price as the 8-digit fixed-point form:
// 5 zero-padded integer digits followed by exactly 3 fractional digits.
// A strike with more than 3 fractional digits is truncated, not rounded.
func formatStrikeFixed(strike float64) string {
	s := strconv.FormatFloat(strike, 'f', -1, 64)
	intPart, decPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, decPart = s[:i], s[i+1:]
	}
	for len(intPart) < 5 {
		intPart = "0" + intPart
	}
	decPart = (decPart + "000")[:3]
	return intPart + decPart
}

// formatStrikePlain renders a strike as a plain number: an integer when
// exactly integral, a decimal otherwise.
func formatStrikePlain(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}

// expiryString renders a date as YYMMDD.
func expiryString(d dates.Date) string {
	b := []byte("000000")
	put2 := func(i, v int) {
		b[i] = byte('0' + v/10)
		b[i+1] = byte('0' + v%10)
	}
	put2(0, int(d.Year())%100)
	put2(2, int(d.Month()))
	put2(4, int(d.Day()))
	return string(b)
}

// checkExpiryString validates a 6-digit YYMMDD expiry string.
func checkExpiryString(expiry string) error {
	if len(expiry) != 6 {
		return errors.Annotate(ErrMalformedExpiry,
			"expiry '%s' must have 6 characters in YYMMDD format", expiry)
	}
	for _, c := range expiry {
		if c < '0' || c > '9' {
			return errors.Annotate(ErrMalformedExpiry,
				"expiry '%s' must contain only digits", expiry)
		}
	}
	return nil
}

// Build creates an OCC-style option symbol from the contract details.
// The option type accepts the same strings as TypeFromString, including its
// default-to-put quirk. When prefixed is true, the result carries the "O:"
// market marker required in API paths.
func Build(underlying string, expiry dates.Date, optType string, strike float64, prefixed bool) string {
	s := strings.ToUpper(underlying) + expiryString(expiry) +
		string(TypeFromString(optType)) + formatStrikeFixed(strike)
	if prefixed {
		return "O:" + s
	}
	return s
}

// BuildFromString is Build for a 6-character YYMMDD expiry string. Any other
// string length fails with ErrMalformedExpiry.
func BuildFromString(underlying, expiry, optType string, strike float64, prefixed bool) (string, error) {
	if err := checkExpiryString(expiry); err != nil {
		return "", err
	}
	s := strings.ToUpper(underlying) + expiry +
		string(TypeFromString(optType)) + formatStrikeFixed(strike)
	if prefixed {
		return "O:" + s, nil
	}
	return s, nil
}

// stripDigits removes digit characters from the leading underlying segment.
// Some feeds append numeric correction markers to the ticker.
func stripDigits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c < '0' || c > '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// parseExpiry converts a YYMMDD string into a date, mapping the 2-digit year
// into the century starting at the given year.
func parseExpiry(yymmdd string, century uint16) (dates.Date, error) {
	if err := checkExpiryString(yymmdd); err != nil {
		return dates.Date{}, err
	}
	yy, _ := strconv.Atoi(yymmdd[:2])
	mm, _ := strconv.Atoi(yymmdd[2:4])
	dd, _ := strconv.Atoi(yymmdd[4:6])
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return dates.Date{}, errors.Annotate(ErrMalformedExpiry,
			"expiry '%s' has an out of range month or day", yymmdd)
	}
	return dates.NewDate(century+uint16(yy), uint8(mm), uint8(dd)), nil
}

// Parse decodes an OCC-style option symbol, with or without the "O:" prefix.
// The 2-digit expiry year is mapped into the current century; use
// ParseWithCentury to make the mapping explicit and deterministic.
func Parse(symbol string) (*OptionSymbol, error) {
	return ParseWithCentury(symbol, currentCentury())
}

// ParseWithCentury decodes an OCC-style option symbol, mapping the 2-digit
// expiry year into the century starting at the given year (e.g. century=2000
// maps "21" to 2021). Note that the scheme cannot represent expiries outside
// a single century; symbols expiring in 21xx parsed with century=2000 come
// out a century early.
func ParseWithCentury(symbol string, century uint16) (*OptionSymbol, error) {
	s := strings.TrimPrefix(symbol, "O:")
	if len(s) < occSuffixLen {
		return nil, errors.Annotate(ErrSymbolTooShort,
			"symbol '%s' has %d characters after the market prefix, need at least %d",
			symbol, len(s), occSuffixLen)
	}
	// The offset of the fixed-width suffix is computed before stripping
	// correction digits from the underlying.
	lead := s[:len(s)-occSuffixLen]
	underlying := stripDigits(lead)
	suffix := s[len(lead):]

	expiry, err := parseExpiry(suffix[:6], century)
	if err != nil {
		return nil, errors.Annotate(err, "failed to parse symbol '%s'", symbol)
	}
	millis, err := strconv.ParseInt(suffix[7:], 10, 64)
	if err != nil {
		return nil, errors.Annotate(err,
			"failed to parse strike digits '%s' of symbol '%s'", suffix[7:], symbol)
	}
	return &OptionSymbol{
		Underlying: underlying,
		Expiry:     expiry,
		Type:       OptionType(strings.ToUpper(suffix[6:7])),
		Strike:     float64(millis) / 1000.0,
		Canonical:  underlying + suffix,
	}, nil
}

// BuildBroker creates a broker-encoded option symbol in the requested
// variant, BrokerUnderscore ("TSLA_211015P125") or BrokerDot
// (".TSLA101521P125"). The dot variant reorders the expiry digits as MMDDYY
// and drops the separator. The strike is rendered as a plain number.
func BuildBroker(underlying string, expiry dates.Date, optType string, strike float64, variant Format) (string, error) {
	return buildBroker(underlying, expiryString(expiry), optType, strike, variant)
}

// BuildBrokerFromString is BuildBroker for a 6-character YYMMDD expiry
// string.
func BuildBrokerFromString(underlying, expiry, optType string, strike float64, variant Format) (string, error) {
	if err := checkExpiryString(expiry); err != nil {
		return "", err
	}
	return buildBroker(underlying, expiry, optType, strike, variant)
}

func buildBroker(underlying, yymmdd, optType string, strike float64, variant Format) (string, error) {
	tail := string(TypeFromString(optType)) + formatStrikePlain(strike)
	switch variant {
	case BrokerUnderscore:
		return underlying + "_" + yymmdd + tail, nil
	case BrokerDot:
		mmddyy := yymmdd[2:6] + yymmdd[:2]
		return "." + underlying + mmddyy + tail, nil
	}
	return "", errors.Annotate(ErrUnknownFormat,
		"'%v' is not a broker symbol variant", variant)
}

// ParseBroker decodes a broker-encoded option symbol in either variant,
// chosen by the leading "." marker. See ParseWithCentury for the 2-digit
// year handling; ParseBrokerWithCentury makes the century explicit.
func ParseBroker(symbol string) (*OptionSymbol, error) {
	return ParseBrokerWithCentury(symbol, currentCentury())
}

// ParseBrokerWithCentury decodes a broker-encoded option symbol, mapping the
// 2-digit expiry year into the century starting at the given year.
func ParseBrokerWithCentury(symbol string, century uint16) (*OptionSymbol, error) {
	s := symbol
	if strings.HasPrefix(s, ".") {
		var err error
		if s, err = dotToUnderscore(s); err != nil {
			return nil, err
		}
	}
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return nil, errors.Annotate(ErrUnknownFormat,
			"broker symbol '%s' must have a single '_' separator", symbol)
	}
	// YYMMDD + C/P + at least one strike digit.
	tail := parts[1]
	if len(tail) < 8 {
		return nil, errors.Annotate(ErrSymbolTooShort,
			"broker symbol '%s' has only %d characters after the separator, need at least 8",
			symbol, len(tail))
	}
	expiry, err := parseExpiry(tail[:6], century)
	if err != nil {
		return nil, errors.Annotate(err, "failed to parse symbol '%s'", symbol)
	}
	strike, err := strconv.ParseFloat(tail[7:], 64)
	if err != nil {
		return nil, errors.Annotate(err,
			"failed to parse strike '%s' of symbol '%s'", tail[7:], symbol)
	}
	return &OptionSymbol{
		Underlying: parts[0],
		Expiry:     expiry,
		Type:       OptionType(strings.ToUpper(tail[6:7])),
		Strike:     strike,
		Canonical:  parts[0] + "_" + tail,
	}, nil
}

// dotToUnderscore rewrites a dot-variant symbol into the underscore variant:
// locate the underlying as the leading alphabetic run, then reorder the 6
// date digits from MMDDYY to YYMMDD.
func dotToUnderscore(symbol string) (string, error) {
	s := strings.ToUpper(symbol[1:])
	n := 0
	for n < len(s) && s[n] >= 'A' && s[n] <= 'Z' {
		n++
	}
	if len(s)-n < 8 {
		return "", errors.Annotate(ErrSymbolTooShort,
			"dot symbol '%s' has only %d characters after the underlying, need at least 8",
			symbol, len(s)-n)
	}
	mmddyy := s[n : n+6]
	return s[:n] + "_" + mmddyy[4:6] + mmddyy[:4] + s[n+6:], nil
}

// parseAs decodes a symbol known to be in the given format.
func parseAs(symbol string, f Format, century uint16) (*OptionSymbol, error) {
	switch f {
	case OCC:
		return ParseWithCentury(symbol, century)
	case BrokerUnderscore, BrokerDot:
		return ParseBrokerWithCentury(symbol, century)
	}
	return nil, errors.Annotate(ErrUnknownFormat,
		"cannot parse '%s' as format '%v'", symbol, f)
}

// Convert re-encodes a symbol into the target format. The source format is
// detected; an Unknown source or target fails with ErrUnknownFormat. The
// conversion always round-trips through the parsed value. The OCC result is
// unprefixed; use EnsurePrefix when the "O:" marker is needed.
func Convert(symbol string, to Format) (string, error) {
	return ConvertWithCentury(symbol, to, currentCentury())
}

// ConvertWithCentury is Convert with an explicit century for the 2-digit
// expiry year mapping.
func ConvertWithCentury(symbol string, to Format, century uint16) (string, error) {
	from := Detect(symbol)
	if from == Unknown {
		return "", errors.Annotate(ErrUnknownFormat,
			"cannot detect the format of '%s'", symbol)
	}
	parsed, err := parseAs(symbol, from, century)
	if err != nil {
		return "", errors.Annotate(err, "failed to convert '%s'", symbol)
	}
	switch to {
	case OCC:
		return Build(parsed.Underlying, parsed.Expiry, string(parsed.Type),
			parsed.Strike, false), nil
	case BrokerUnderscore, BrokerDot:
		return BuildBroker(parsed.Underlying, parsed.Expiry, string(parsed.Type),
			parsed.Strike, to)
	}
	return "", errors.Annotate(ErrUnknownFormat,
		"cannot convert '%s' to format '%v'", symbol, to)
}

// EnsurePrefix normalizes an OCC-style symbol to the uppercase form with the
// "O:" market marker, as required in API paths. A symbol shorter than the
// minimum encoding length fails with ErrSymbolTooShort.
func EnsurePrefix(symbol string) (string, error) {
	if len(symbol) < occSuffixLen {
		return "", errors.Annotate(ErrSymbolTooShort,
			"symbol '%s' has %d characters, need at least %d",
			symbol, len(symbol), occSuffixLen)
	}
	s := strings.ToUpper(symbol)
	if strings.HasPrefix(s, "O:") {
		return s, nil
	}
	return "O:" + s, nil
}
