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

package table

import (
	"bytes"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type testRow struct {
	name  string
	price string
}

var _ Row = testRow{}

func (r testRow) CSV() []string { return []string{r.name, r.price} }

func TestTable(t *testing.T) {
	t.Parallel()

	Convey("Table writers work", t, func() {
		tbl := NewTable("name", "price")
		tbl.AddRow(testRow{"apple", "1.25"}, testRow{"fig", "12"})

		Convey("CSV with header", func() {
			var buf bytes.Buffer
			So(tbl.WriteCSV(&buf, Params{}), ShouldBeNil)
			So(buf.String(), ShouldEqual, "name,price\napple,1.25\nfig,12\n")
		})

		Convey("CSV without header, limited rows", func() {
			var buf bytes.Buffer
			So(tbl.WriteCSV(&buf, Params{Rows: 1, NoHeader: true}), ShouldBeNil)
			So(buf.String(), ShouldEqual, "apple,1.25\n")
		})

		Convey("text aligns columns and underlines the header", func() {
			var buf bytes.Buffer
			So(tbl.WriteText(&buf, Params{}), ShouldBeNil)
			So(buf.String(), ShouldEqual, ` name | price
----- | -----
apple |  1.25
  fig |    12
`)
		})

		Convey("text without a header", func() {
			var buf bytes.Buffer
			So(tbl.WriteText(&buf, Params{NoHeader: true}), ShouldBeNil)
			So(buf.String(), ShouldEqual, "apple | 1.25\n  fig |   12\n")
		})

		Convey("empty table writes nothing in text mode", func() {
			var buf bytes.Buffer
			So(NewTable().WriteText(&buf, Params{}), ShouldBeNil)
			So(buf.String(), ShouldEqual, "")
		})

		Convey("row size mismatch is an error", func() {
			bad := NewTable("only-one")
			bad.AddRow(testRow{"apple", "1.25"})
			var buf bytes.Buffer
			So(bad.WriteText(&buf, Params{}), ShouldNotBeNil)
		})
	})
}
