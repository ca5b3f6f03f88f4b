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

// Package polygon implements the options endpoints of the market data API:
// trades, quotes, last trade, daily open/close, previous close, aggregate
// bars and contract snapshots. The endpoint methods are thin parameter
// builders over the HTTP collaborator; the heavy lifting of chunking,
// merging and pagination lives in the aggs package.
package polygon

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/optiondata/aggs"
	"github.com/stockparfait/optiondata/dates"
	"github.com/stockparfait/optiondata/optsym"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// URL is the default base URL of the server. It may be overwritten in tests
// before creating a new client.
var URL = "https://api.polygon.io"

// Client for querying the options endpoints.
type Client struct {
	baseURL string // the base URL of the server
	apiKey  string // your very own secret key
}

// newClient creates a new client.
func newClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient creates a new client based on the API key and injects it into
// the context.
func UseClient(ctx context.Context, apiKey string) context.Context {
	return context.WithValue(ctx, clientContextKey, newClient(URL, apiKey))
}

// getJSON fetches baseURL+path with the client from the context, adding the
// API key to the query, and decodes the JSON response into v.
func getJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	client := GetClient(ctx)
	if client == nil {
		return errors.Reason("no client in context")
	}
	return getURL(ctx, client.baseURL+path, query, v)
}

// getURL is getJSON for a complete URL, as carried by next-page cursors. Any
// query string already embedded in the URL is folded into the query values.
func getURL(ctx context.Context, uri string, query url.Values, v interface{}) error {
	client := GetClient(ctx)
	if client == nil {
		return errors.Reason("no client in context")
	}
	u, err := url.Parse(uri)
	if err != nil {
		return errors.Annotate(err, "failed to parse URL '%s'", uri)
	}
	q := u.Query()
	for k, vals := range query {
		q[k] = vals
	}
	q["apiKey"] = []string{client.apiKey}
	u.RawQuery = ""
	if err := fetch.FetchJSON(ctx, u.String(), v, q, nil); err != nil {
		return errors.Annotate(err, "failed to fetch URL")
	}
	return nil
}

// TickQuery holds the common query parameters of the trades and quotes
// endpoints. Timestamps are passed through verbatim: a YYYY-MM-DD date or a
// nanosecond UNIX timestamp, as the server accepts both.
type TickQuery struct {
	Timestamp    string // query by exact timestamp
	TimestampLT  string
	TimestampLTE string
	TimestampGT  string
	TimestampGTE string
	Order        string // asc or desc; server default: asc
	Sort         string // sort field; server default: timestamp
	Limit        int    // results per page, up to 50000; 0 = server default
}

// Values returns the query values. Each call creates a new object, so the
// caller is free to modify it without affecting the query.
func (q TickQuery) Values() url.Values {
	v := make(url.Values)
	set := func(key, val string) {
		if val != "" {
			v[key] = []string{val}
		}
	}
	set("timestamp", q.Timestamp)
	set("timestamp.lt", q.TimestampLT)
	set("timestamp.lte", q.TimestampLTE)
	set("timestamp.gt", q.TimestampGT)
	set("timestamp.gte", q.TimestampGTE)
	set("order", q.Order)
	set("sort", q.Sort)
	if q.Limit > 0 {
		v["limit"] = []string{fmt.Sprintf("%d", q.Limit)}
	}
	return v
}

// Trade is a single option trade.
type Trade struct {
	Conditions           []int   `json:"conditions"`
	Exchange             int     `json:"exchange"`
	Price                float64 `json:"price"`
	SequenceNumber       int64   `json:"sequence_number"`
	SIPTimestamp         int64   `json:"sip_timestamp"`
	ParticipantTimestamp int64   `json:"participant_timestamp"`
	Size                 float64 `json:"size"`
}

// TradesResponse is one page of the trades endpoint.
type TradesResponse struct {
	Results   []Trade `json:"results"`
	Status    string  `json:"status"`
	RequestID string  `json:"request_id"`
	Count     int     `json:"count"`
	NextURL   string  `json:"next_url"`
}

var _ aggs.Page = &TradesResponse{}

// NextCursor implements aggs.Page.
func (r *TradesResponse) NextCursor() string { return r.NextURL }

// Trades fetches one page of trades for an option symbol in a given time
// range. The symbol may be passed with or without the "O:" prefix.
func Trades(ctx context.Context, symbol string, q TickQuery) (*TradesResponse, error) {
	sym, err := optsym.EnsurePrefix(symbol)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	var r TradesResponse
	if err := getJSON(ctx, "/v3/trades/"+sym, q.Values(), &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch trades for %s", sym)
	}
	return &r, nil
}

// TradesAll fetches all pages of trades by following the next-page cursors,
// up to maxPages pages (0 = all pages), and returns the ordered list of
// pages.
func TradesAll(ctx context.Context, symbol string, q TickQuery, maxPages int) ([]*TradesResponse, error) {
	first, err := Trades(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	next := func(ctx context.Context, cursor string) (*TradesResponse, error) {
		var r TradesResponse
		if err := getURL(ctx, cursor, nil, &r); err != nil {
			return nil, errors.Annotate(err, "failed to fetch trades page")
		}
		return &r, nil
	}
	return aggs.FollowPages(ctx, first, next, maxPages)
}

// TradesMerged is TradesAll with all pages merged into a single response in
// page-arrival order.
func TradesMerged(ctx context.Context, symbol string, q TickQuery, maxPages int) (*TradesResponse, error) {
	pages, err := TradesAll(ctx, symbol, q, maxPages)
	if err != nil {
		return nil, err
	}
	merged := TradesResponse{
		Status:    pages[0].Status,
		RequestID: pages[0].RequestID,
	}
	for _, p := range pages {
		merged.Results = append(merged.Results, p.Results...)
	}
	merged.Count = len(merged.Results)
	return &merged, nil
}

// Quote is a single option quote (NBBO).
type Quote struct {
	AskExchange    int     `json:"ask_exchange"`
	AskPrice       float64 `json:"ask_price"`
	AskSize        float64 `json:"ask_size"`
	BidExchange    int     `json:"bid_exchange"`
	BidPrice       float64 `json:"bid_price"`
	BidSize        float64 `json:"bid_size"`
	SequenceNumber int64   `json:"sequence_number"`
	SIPTimestamp   int64   `json:"sip_timestamp"`
}

// QuotesResponse is one page of the quotes endpoint.
type QuotesResponse struct {
	Results   []Quote `json:"results"`
	Status    string  `json:"status"`
	RequestID string  `json:"request_id"`
	Count     int     `json:"count"`
	NextURL   string  `json:"next_url"`
}

var _ aggs.Page = &QuotesResponse{}

// NextCursor implements aggs.Page.
func (r *QuotesResponse) NextCursor() string { return r.NextURL }

// Quotes fetches one page of quotes for an option symbol in a given time
// range. The symbol may be passed with or without the "O:" prefix.
func Quotes(ctx context.Context, symbol string, q TickQuery) (*QuotesResponse, error) {
	sym, err := optsym.EnsurePrefix(symbol)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	var r QuotesResponse
	if err := getJSON(ctx, "/v3/quotes/"+sym, q.Values(), &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch quotes for %s", sym)
	}
	return &r, nil
}

// QuotesAll fetches all pages of quotes by following the next-page cursors,
// up to maxPages pages (0 = all pages), and returns the ordered list of
// pages.
func QuotesAll(ctx context.Context, symbol string, q TickQuery, maxPages int) ([]*QuotesResponse, error) {
	first, err := Quotes(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	next := func(ctx context.Context, cursor string) (*QuotesResponse, error) {
		var r QuotesResponse
		if err := getURL(ctx, cursor, nil, &r); err != nil {
			return nil, errors.Annotate(err, "failed to fetch quotes page")
		}
		return &r, nil
	}
	return aggs.FollowPages(ctx, first, next, maxPages)
}

// QuotesMerged is QuotesAll with all pages merged into a single response in
// page-arrival order.
func QuotesMerged(ctx context.Context, symbol string, q TickQuery, maxPages int) (*QuotesResponse, error) {
	pages, err := QuotesAll(ctx, symbol, q, maxPages)
	if err != nil {
		return nil, err
	}
	merged := QuotesResponse{
		Status:    pages[0].Status,
		RequestID: pages[0].RequestID,
	}
	for _, p := range pages {
		merged.Results = append(merged.Results, p.Results...)
	}
	merged.Count = len(merged.Results)
	return &merged, nil
}

// LastTradeResult is the most recent trade of a contract.
type LastTradeResult struct {
	Ticker       string  `json:"T"`
	Conditions   []int   `json:"c"`
	Exchange     int     `json:"x"`
	Price        float64 `json:"p"`
	Size         float64 `json:"s"`
	SIPTimestamp int64   `json:"t"`
}

// LastTradeResponse is the payload of the last trade endpoint.
type LastTradeResponse struct {
	Results   LastTradeResult `json:"results"`
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
}

// LastTrade fetches the most recent trade for an options contract.
func LastTrade(ctx context.Context, ticker string) (*LastTradeResponse, error) {
	sym, err := optsym.EnsurePrefix(ticker)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	var r LastTradeResponse
	if err := getJSON(ctx, "/v2/last/trade/"+sym, nil, &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch last trade for %s", sym)
	}
	return &r, nil
}

// DailyOpenCloseResponse is the payload of the daily open/close endpoint.
type DailyOpenCloseResponse struct {
	Status     string     `json:"status"`
	From       dates.Date `json:"from"`
	Symbol     string     `json:"symbol"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     float64    `json:"volume"`
	AfterHours float64    `json:"afterHours"`
	PreMarket  float64    `json:"preMarket"`
}

// DailyOpenClose fetches the OHLCV and extended hours prices of a contract
// on the given date. Results are adjusted for splits unless unadjusted is
// set.
func DailyOpenClose(ctx context.Context, symbol string, date dates.Date, unadjusted bool) (*DailyOpenCloseResponse, error) {
	sym, err := optsym.EnsurePrefix(symbol)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	var r DailyOpenCloseResponse
	path := "/v1/open-close/" + sym + "/" + date.String()
	if err := getJSON(ctx, path, adjustedValues(unadjusted), &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch daily open/close for %s", sym)
	}
	return &r, nil
}

// Bar is a single aggregate bar.
type Bar struct {
	Timestamp int64   `json:"t"` // window start, Unix milliseconds
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	VWAP      float64 `json:"vw"`
	Samples   int     `json:"n"` // number of base aggregates in the window
}

// AggsResponse is the payload of the aggregate bars and previous close
// endpoints.
type AggsResponse struct {
	Ticker       string `json:"ticker"`
	QueryCount   int    `json:"queryCount"`
	ResultsCount int    `json:"resultsCount"`
	Adjusted     bool   `json:"adjusted"`
	Results      []Bar  `json:"results"`
	Status       string `json:"status"`
	RequestID    string `json:"request_id"`
	Count        int    `json:"count"`
}

// AggsQuery holds the query parameters of the aggregate bars endpoint.
type AggsQuery struct {
	Multiplier int           // size of the timespan multiplier; 0 = 1
	Timespan   aggs.Timespan // size of the time window; "" = day
	Unadjusted bool          // results are adjusted for splits by default
	Sort       string        // sort by timestamp, asc or desc; "" = asc
	Limit      int           // base aggregates per request, up to 50000
}

func (q AggsQuery) multiplier() int {
	if q.Multiplier < 1 {
		return 1
	}
	return q.Multiplier
}

func (q AggsQuery) timespan() aggs.Timespan {
	switch q.Timespan {
	case "":
		return aggs.Day
	case "min":
		return aggs.Minute
	}
	return q.Timespan
}

// Values returns the query values. Each call creates a new object, so the
// caller is free to modify it without affecting the query.
func (q AggsQuery) Values() url.Values {
	v := adjustedValues(q.Unadjusted)
	if q.Sort != "" {
		v["sort"] = []string{q.Sort}
	}
	if q.Limit > 0 {
		v["limit"] = []string{fmt.Sprintf("%d", q.Limit)}
	}
	return v
}

func adjustedValues(unadjusted bool) url.Values {
	adjusted := "true"
	if unadjusted {
		adjusted = "false"
	}
	return url.Values{"adjusted": []string{adjusted}}
}

// AggregateBars fetches aggregate bars for an option contract over the date
// range in custom time window sizes; e.g. Timespan=minute and Multiplier=5
// returns 5-minute bars. A single request returns at most 50000 bars; use
// FullRangeAggregateBars for ranges that may exceed the cap.
func AggregateBars(ctx context.Context, symbol string, r dates.Range, q AggsQuery) (*AggsResponse, error) {
	sym, err := optsym.EnsurePrefix(symbol)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		sym, q.multiplier(), q.timespan(), r.Start, r.End)
	var resp AggsResponse
	if err := getJSON(ctx, path, q.Values(), &resp); err != nil {
		return nil, errors.Annotate(err, "failed to fetch aggregates for %s over %s", sym, r)
	}
	return &resp, nil
}

// FullRangeOptions configure FullRangeAggregateBars.
type FullRangeOptions struct {
	Parallel       bool // fetch chunks through a bounded worker pool
	MaxWorkers     int  // pool size; values < 1 behave as 1
	AllowPartial   bool // skip failed chunks instead of failing the fetch
	HighVolatility bool // use smaller chunks for heavily traded symbols
}

// FullRangeAggregateBars fetches aggregate bars over the entire date range,
// splitting it into row-cap-safe chunks and merging the per-chunk results in
// ascending date order. Unless explicitly set, the per-request limit is
// raised to the row cap.
func FullRangeAggregateBars(ctx context.Context, symbol string, r dates.Range, q AggsQuery, opts FullRangeOptions) ([]Bar, error) {
	chunks, err := aggs.Split(r.Start, r.End, q.timespan(), opts.HighVolatility)
	if err != nil {
		return nil, errors.Annotate(err, "failed to split the range %s", r)
	}
	if q.Limit == 0 {
		q.Limit = aggs.RowCap
	}
	fetchOne := func(ctx context.Context, chunk dates.Range) ([]Bar, error) {
		resp, err := AggregateBars(ctx, symbol, chunk, q)
		if err != nil {
			return nil, err
		}
		return resp.Results, nil
	}
	bars, err := aggs.FetchMerged(ctx, chunks, fetchOne, aggs.Options{
		Parallel:     opts.Parallel,
		MaxWorkers:   opts.MaxWorkers,
		AllowPartial: opts.AllowPartial,
	})
	if err != nil {
		return nil, errors.Annotate(err, "failed to fetch aggregates for %s over %s", symbol, r)
	}
	return bars, nil
}

// PreviousClose fetches the previous day's OHLC for the contract.
func PreviousClose(ctx context.Context, ticker string, unadjusted bool) (*AggsResponse, error) {
	sym, err := optsym.EnsurePrefix(ticker)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	var r AggsResponse
	path := "/v2/aggs/ticker/" + sym + "/prev"
	if err := getJSON(ctx, path, adjustedValues(unadjusted), &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch previous close for %s", sym)
	}
	return &r, nil
}

// SnapshotDay is the most recent daily bar of a contract.
type SnapshotDay struct {
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	VWAP          float64 `json:"vwap"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	LastUpdated   int64   `json:"last_updated"`
}

// SnapshotDetails are the contract terms.
type SnapshotDetails struct {
	ContractType      string     `json:"contract_type"`
	ExerciseStyle     string     `json:"exercise_style"`
	ExpirationDate    dates.Date `json:"expiration_date"`
	SharesPerContract float64    `json:"shares_per_contract"`
	StrikePrice       float64    `json:"strike_price"`
	Ticker            string     `json:"ticker"`
}

// SnapshotGreeks are the option greeks of a contract.
type SnapshotGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// SnapshotUnderlying describes the underlying asset of a contract.
type SnapshotUnderlying struct {
	Ticker            string  `json:"ticker"`
	Price             float64 `json:"price"`
	ChangeToBreakEven float64 `json:"change_to_break_even"`
	LastUpdated       int64   `json:"last_updated"`
}

// ContractSnapshot is the full snapshot of an option contract.
type ContractSnapshot struct {
	BreakEvenPrice    float64            `json:"break_even_price"`
	Day               SnapshotDay        `json:"day"`
	Details           SnapshotDetails    `json:"details"`
	Greeks            SnapshotGreeks     `json:"greeks"`
	ImpliedVolatility float64            `json:"implied_volatility"`
	OpenInterest      float64            `json:"open_interest"`
	UnderlyingAsset   SnapshotUnderlying `json:"underlying_asset"`
}

// SnapshotResponse is the payload of the contract snapshot endpoint.
type SnapshotResponse struct {
	Results   ContractSnapshot `json:"results"`
	Status    string           `json:"status"`
	RequestID string           `json:"request_id"`
}

// ChainResponse is one page of the option chain snapshot endpoint.
type ChainResponse struct {
	Results   []ContractSnapshot `json:"results"`
	Status    string             `json:"status"`
	RequestID string             `json:"request_id"`
	NextURL   string             `json:"next_url"`
}

var _ aggs.Page = &ChainResponse{}

// NextCursor implements aggs.Page.
func (r *ChainResponse) NextCursor() string { return r.NextURL }

// ChainQuery holds the query parameters of the option chain snapshot
// endpoint.
type ChainQuery struct {
	StrikePrice  float64 // filter by exact strike; 0 = all strikes
	ContractType string  // call or put; "" = both
	Order        string  // asc or desc by the sort field
	Sort         string  // sort field, e.g. strike_price or expiration_date
	Limit        int     // contracts per page, up to 250; 0 = server default
}

// Values returns the query values. Each call creates a new object, so the
// caller is free to modify it without affecting the query.
func (q ChainQuery) Values() url.Values {
	v := make(url.Values)
	if q.StrikePrice > 0 {
		v["strike_price"] = []string{strconv.FormatFloat(q.StrikePrice, 'f', -1, 64)}
	}
	if q.ContractType != "" {
		v["contract_type"] = []string{q.ContractType}
	}
	if q.Order != "" {
		v["order"] = []string{q.Order}
	}
	if q.Sort != "" {
		v["sort"] = []string{q.Sort}
	}
	if q.Limit > 0 {
		v["limit"] = []string{fmt.Sprintf("%d", q.Limit)}
	}
	return v
}

// SnapshotChain fetches one page of snapshots of all option contracts of an
// underlying equity.
func SnapshotChain(ctx context.Context, underlying string, q ChainQuery) (*ChainResponse, error) {
	var r ChainResponse
	path := "/v3/snapshot/options/" + underlying
	if err := getJSON(ctx, path, q.Values(), &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch option chain for %s", underlying)
	}
	return &r, nil
}

// SnapshotChainAll fetches all pages of the option chain by following the
// next-page cursors, up to maxPages pages (0 = all pages), and returns the
// ordered list of pages.
func SnapshotChainAll(ctx context.Context, underlying string, q ChainQuery, maxPages int) ([]*ChainResponse, error) {
	first, err := SnapshotChain(ctx, underlying, q)
	if err != nil {
		return nil, err
	}
	next := func(ctx context.Context, cursor string) (*ChainResponse, error) {
		var r ChainResponse
		if err := getURL(ctx, cursor, nil, &r); err != nil {
			return nil, errors.Annotate(err, "failed to fetch option chain page")
		}
		return &r, nil
	}
	return aggs.FollowPages(ctx, first, next, maxPages)
}

// Snapshot fetches the snapshot of an option contract for the underlying
// equity.
func Snapshot(ctx context.Context, underlying, optionSymbol string) (*SnapshotResponse, error) {
	sym, err := optsym.EnsurePrefix(optionSymbol)
	if err != nil {
		return nil, errors.Annotate(err, "invalid option symbol")
	}
	var r SnapshotResponse
	path := "/v3/snapshot/options/" + underlying + "/" + sym
	if err := getJSON(ctx, path, nil, &r); err != nil {
		return nil, errors.Annotate(err, "failed to fetch snapshot for %s", sym)
	}
	return &r, nil
}
