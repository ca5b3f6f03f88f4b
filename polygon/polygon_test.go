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

package polygon

import (
	"context"
	"net/url"
	"testing"

	"github.com/stockparfait/fetch"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/optiondata/aggs"
	"github.com/stockparfait/optiondata/dates"
	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestQueries(t *testing.T) {
	t.Parallel()

	Convey("TickQuery values", t, func() {
		Convey("empty query has no values", func() {
			So(len(TickQuery{}.Values()), ShouldEqual, 0)
		})

		Convey("all fields are set", func() {
			q := TickQuery{
				Timestamp:    "2021-10-14",
				TimestampLT:  "1",
				TimestampLTE: "2",
				TimestampGT:  "3",
				TimestampGTE: "4",
				Order:        "desc",
				Sort:         "timestamp",
				Limit:        100,
			}
			So(q.Values(), ShouldResemble, url.Values{
				"timestamp":     []string{"2021-10-14"},
				"timestamp.lt":  []string{"1"},
				"timestamp.lte": []string{"2"},
				"timestamp.gt":  []string{"3"},
				"timestamp.gte": []string{"4"},
				"order":         []string{"desc"},
				"sort":          []string{"timestamp"},
				"limit":         []string{"100"},
			})
		})
	})

	Convey("AggsQuery values and defaults", t, func() {
		So(AggsQuery{}.Values(), ShouldResemble,
			url.Values{"adjusted": []string{"true"}})
		So(AggsQuery{Unadjusted: true, Sort: "desc", Limit: 5}.Values(),
			ShouldResemble, url.Values{
				"adjusted": []string{"false"},
				"sort":     []string{"desc"},
				"limit":    []string{"5"},
			})
		So(AggsQuery{}.multiplier(), ShouldEqual, 1)
		So(AggsQuery{}.timespan(), ShouldEqual, aggs.Day)
		So(AggsQuery{Timespan: "min"}.timespan(), ShouldEqual, aggs.Minute)
		So(AggsQuery{Timespan: aggs.Hour}.timespan(), ShouldEqual, aggs.Hour)
	})
}

func TestEndpoints(t *testing.T) {
	t.Parallel()

	Convey("API calls work correctly", t, func() {
		server := testutil.NewTestServer()
		defer server.Close()

		testKey := "testkey"
		ctx := logging.Use(context.Background(),
			logging.DefaultGoLogger(logging.Info))
		ctx = fetch.UseClient(ctx, server.Client())
		URL = server.URL()
		ctx = UseClient(ctx, testKey)

		Convey("without a client in the context", func() {
			_, err := Trades(context.Background(), "O:TSLA211015P00125000", TickQuery{})
			So(err, ShouldNotBeNil)
		})

		Convey("with a malformed symbol", func() {
			_, err := Trades(ctx, "TSLA", TickQuery{})
			So(err, ShouldNotBeNil)
		})

		Convey("Trades", func() {
			Convey("fetches one page", func() {
				server.ResponseBody = []string{`
{"results": [
   {"price": 25.0, "size": 2, "sip_timestamp": 1634112000000000000},
   {"price": 25.5, "size": 1, "sip_timestamp": 1634112001000000000}],
 "status": "OK", "request_id": "req1", "count": 2}`}
				r, err := Trades(ctx, "tsla211015P00125000", TickQuery{Limit: 10})
				So(err, ShouldBeNil)
				So(server.RequestPath, ShouldEqual, "/v3/trades/O:TSLA211015P00125000")
				So(server.RequestQuery, ShouldResemble, url.Values{
					"limit":  []string{"10"},
					"apiKey": []string{testKey},
				})
				So(len(r.Results), ShouldEqual, 2)
				So(r.Results[0].Price, ShouldEqual, 25.0)
				So(r.NextCursor(), ShouldEqual, "")
			})

			Convey("merges two pages", func() {
				page1 := `
{"results": [{"price": 25.0, "size": 2}],
 "status": "OK", "request_id": "req1", "count": 1,
 "next_url": "` + server.URL() + `/v3/trades/O:TSLA211015P00125000?cursor=abc"}`
				page2 := `
{"results": [{"price": 25.5, "size": 1}],
 "status": "OK", "request_id": "req2", "count": 1}`
				server.ResponseBody = []string{page1, page2}
				r, err := TradesMerged(ctx, "O:TSLA211015P00125000", TickQuery{}, 0)
				So(err, ShouldBeNil)
				So(r.Count, ShouldEqual, 2)
				So(r.RequestID, ShouldEqual, "req1")
				So(r.Results[0].Price, ShouldEqual, 25.0)
				So(r.Results[1].Price, ShouldEqual, 25.5)
				So(server.RequestQuery["cursor"], ShouldResemble, []string{"abc"})
				So(server.RequestQuery["apiKey"], ShouldResemble, []string{testKey})
			})

			Convey("respects the page limit", func() {
				page := `
{"results": [{"price": 25.0}], "status": "OK", "count": 1,
 "next_url": "` + server.URL() + `/v3/trades/O:TSLA211015P00125000?cursor=abc"}`
				// Every page points at the next one; the limit must stop the chain.
				server.ResponseBody = []string{page, page, page}
				pages, err := TradesAll(ctx, "O:TSLA211015P00125000", TickQuery{}, 2)
				So(err, ShouldBeNil)
				So(len(pages), ShouldEqual, 2)
			})
		})

		Convey("Quotes fetches and merges pages", func() {
			page1 := `
{"results": [{"ask_price": 26.0, "bid_price": 25.0}],
 "status": "OK", "request_id": "req1", "count": 1,
 "next_url": "` + server.URL() + `/v3/quotes/O:TSLA211015P00125000?cursor=qq"}`
			page2 := `
{"results": [{"ask_price": 26.5, "bid_price": 25.5}],
 "status": "OK", "request_id": "req2", "count": 1}`
			server.ResponseBody = []string{page1, page2}
			r, err := QuotesMerged(ctx, "O:TSLA211015P00125000", TickQuery{}, 0)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/v3/quotes/O:TSLA211015P00125000")
			So(r.Count, ShouldEqual, 2)
			So(r.Results[1].AskPrice, ShouldEqual, 26.5)
		})

		Convey("LastTrade", func() {
			server.ResponseBody = []string{`
{"results": {"T": "O:TSLA211015P00125000", "p": 21.4, "s": 2},
 "status": "OK", "request_id": "req1"}`}
			r, err := LastTrade(ctx, "O:TSLA211015P00125000")
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/v2/last/trade/O:TSLA211015P00125000")
			So(r.Results.Price, ShouldEqual, 21.4)
		})

		Convey("DailyOpenClose", func() {
			server.ResponseBody = []string{`
{"status": "OK", "from": "2021-10-14", "symbol": "O:TSLA211015P00125000",
 "open": 25.0, "high": 26.0, "low": 24.5, "close": 25.5, "volume": 100,
 "afterHours": 25.4, "preMarket": 25.1}`}
			r, err := DailyOpenClose(ctx, "O:TSLA211015P00125000",
				dates.NewDate(2021, 10, 14), false)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual,
				"/v1/open-close/O:TSLA211015P00125000/2021-10-14")
			So(server.RequestQuery["adjusted"], ShouldResemble, []string{"true"})
			So(r.From, ShouldResemble, dates.NewDate(2021, 10, 14))
			So(r.Close, ShouldEqual, 25.5)
		})

		Convey("AggregateBars", func() {
			server.ResponseBody = []string{`
{"ticker": "O:TSLA211015P00125000", "queryCount": 2, "resultsCount": 2,
 "adjusted": true, "status": "OK", "request_id": "req1", "count": 2,
 "results": [
   {"t": 1634169600000, "o": 25.0, "h": 26.0, "l": 24.5, "c": 25.5,
    "v": 100, "vw": 25.2, "n": 17},
   {"t": 1634256000000, "o": 25.5, "h": 25.8, "l": 25.1, "c": 25.3,
    "v": 50, "vw": 25.4, "n": 9}]}`}
			r, err := AggregateBars(ctx, "O:TSLA211015P00125000",
				dates.NewRange(dates.NewDate(2021, 10, 14), dates.NewDate(2021, 10, 15)),
				AggsQuery{Multiplier: 5, Timespan: aggs.Minute})
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual,
				"/v2/aggs/ticker/O:TSLA211015P00125000/range/5/minute/2021-10-14/2021-10-15")
			So(len(r.Results), ShouldEqual, 2)
			So(r.Results[0].Open, ShouldEqual, 25.0)
			So(r.Results[1].Samples, ShouldEqual, 9)
		})

		Convey("FullRangeAggregateBars", func() {
			Convey("merges the chunks in date order", func() {
				// 20 days of minute bars split into two chunks, one request each.
				server.ResponseBody = []string{`
{"status": "OK", "count": 1,
 "results": [{"t": 1641024000000, "c": 25.5, "v": 100}]}`, `
{"status": "OK", "count": 1,
 "results": [{"t": 1642492800000, "c": 26.5, "v": 50}]}`}
				bars, err := FullRangeAggregateBars(ctx, "O:TSLA220121P00125000",
					dates.NewRange(dates.NewDate(2022, 1, 1), dates.NewDate(2022, 1, 20)),
					AggsQuery{Timespan: aggs.Minute}, FullRangeOptions{})
				So(err, ShouldBeNil)
				So(len(bars), ShouldEqual, 2)
				So(bars[0].Close, ShouldEqual, 25.5)
				So(bars[1].Close, ShouldEqual, 26.5)
				// The last request is for the second chunk, with the limit
				// raised to the row cap.
				So(server.RequestPath, ShouldEqual,
					"/v2/aggs/ticker/O:TSLA220121P00125000/range/1/minute/2022-01-18/2022-01-20")
				So(server.RequestQuery["limit"], ShouldResemble, []string{"50000"})
			})

			Convey("fails on an inverted range", func() {
				_, err := FullRangeAggregateBars(ctx, "O:TSLA220121P00125000",
					dates.NewRange(dates.NewDate(2022, 2, 1), dates.NewDate(2022, 1, 20)),
					AggsQuery{}, FullRangeOptions{})
				So(err, ShouldNotBeNil)
			})
		})

		Convey("PreviousClose", func() {
			server.ResponseBody = []string{`
{"ticker": "O:TSLA211015P00125000", "status": "OK", "count": 1,
 "results": [{"t": 1634083200000, "o": 24.0, "c": 24.8}]}`}
			r, err := PreviousClose(ctx, "O:TSLA211015P00125000", true)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual,
				"/v2/aggs/ticker/O:TSLA211015P00125000/prev")
			So(server.RequestQuery["adjusted"], ShouldResemble, []string{"false"})
			So(r.Results[0].Close, ShouldEqual, 24.8)
		})

		Convey("SnapshotChain follows pages", func() {
			page1 := `
{"status": "OK", "request_id": "req1",
 "results": [{"details": {"ticker": "O:TSLA211015P00120000", "strike_price": 120}}],
 "next_url": "` + server.URL() + `/v3/snapshot/options/TSLA?cursor=ch2"}`
			page2 := `
{"status": "OK", "request_id": "req2",
 "results": [{"details": {"ticker": "O:TSLA211015P00125000", "strike_price": 125}}]}`
			server.ResponseBody = []string{page1, page2}
			pages, err := SnapshotChainAll(ctx, "TSLA",
				ChainQuery{ContractType: "put", Limit: 1}, 0)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/v3/snapshot/options/TSLA")
			So(server.RequestQuery["cursor"], ShouldResemble, []string{"ch2"})
			So(len(pages), ShouldEqual, 2)
			So(pages[0].Results[0].Details.StrikePrice, ShouldEqual, 120.0)
			So(pages[1].Results[0].Details.StrikePrice, ShouldEqual, 125.0)
		})

		Convey("ChainQuery values", func() {
			So(ChainQuery{
				StrikePrice:  125.5,
				ContractType: "put",
				Order:        "asc",
				Sort:         "strike_price",
				Limit:        10,
			}.Values(), ShouldResemble, url.Values{
				"strike_price":  []string{"125.5"},
				"contract_type": []string{"put"},
				"order":         []string{"asc"},
				"sort":          []string{"strike_price"},
				"limit":         []string{"10"},
			})
			So(len(ChainQuery{}.Values()), ShouldEqual, 0)
		})

		Convey("Snapshot", func() {
			server.ResponseBody = []string{`
{"status": "OK", "request_id": "req1",
 "results": {
   "break_even_price": 150.5,
   "day": {"open": 25.0, "close": 25.5, "volume": 100},
   "details": {
     "contract_type": "put", "exercise_style": "american",
     "expiration_date": "2021-10-15", "shares_per_contract": 100,
     "strike_price": 125, "ticker": "O:TSLA211015P00125000"},
   "greeks": {"delta": -0.4, "gamma": 0.01, "theta": -0.02, "vega": 0.1},
   "implied_volatility": 0.55, "open_interest": 1234,
   "underlying_asset": {"ticker": "TSLA", "price": 140.3}}}`}
			r, err := Snapshot(ctx, "TSLA", "O:TSLA211015P00125000")
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual,
				"/v3/snapshot/options/TSLA/O:TSLA211015P00125000")
			So(r.Results.Details.ExpirationDate, ShouldResemble,
				dates.NewDate(2021, 10, 15))
			So(r.Results.Details.StrikePrice, ShouldEqual, 125.0)
			So(r.Results.Greeks.Delta, ShouldEqual, -0.4)
			So(r.Results.UnderlyingAsset.Ticker, ShouldEqual, "TSLA")
		})
	})
}
