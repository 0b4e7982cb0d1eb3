package datasource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

type DataSourceTestSuite struct {
	suite.Suite
}

func TestDataSourceSuite(t *testing.T) {
	suite.Run(t, new(DataSourceTestSuite))
}

func (suite *DataSourceTestSuite) barsAt(hours ...int) []types.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	bars := make([]types.Bar, len(hours))
	for i, h := range hours {
		bars[i] = types.Bar{
			Time:   base.Add(time.Duration(h) * time.Hour),
			Symbol: "EURUSD",
			Close:  100 + float64(h),
		}
	}

	return bars
}

func (suite *DataSourceTestSuite) TestSliceSourceLoadAll() {
	source := NewSliceSource(suite.barsAt(0, 1, 2))

	bars, err := source.Load(optional.None[time.Time](), optional.None[time.Time]())

	suite.Require().NoError(err)
	suite.Len(bars, 3)
}

func (suite *DataSourceTestSuite) TestSliceSourceWindowIsInclusive() {
	source := NewSliceSource(suite.barsAt(0, 1, 2, 3))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars, err := source.Load(
		optional.Some(base.Add(1*time.Hour)),
		optional.Some(base.Add(2*time.Hour)),
	)

	suite.Require().NoError(err)
	suite.Require().Len(bars, 2)
	suite.Equal(101.0, bars[0].Close)
	suite.Equal(102.0, bars[1].Close)
}

func (suite *DataSourceTestSuite) TestSliceSourceRejectsUnordered() {
	bars := suite.barsAt(2, 1)
	source := NewSliceSource(bars)

	_, err := source.Load(optional.None[time.Time](), optional.None[time.Time]())

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataUnordered))
}

func (suite *DataSourceTestSuite) writeCSV(content string) string {
	path := filepath.Join(suite.T().TempDir(), "bars.csv")
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	return path
}

func (suite *DataSourceTestSuite) TestCSVSourceLoads() {
	path := suite.writeCSV(`time,symbol,open,high,low,close,bid,ask,volume
2024-01-01T00:00:00Z,EURUSD,100,102,99,101,100.9,101.1,1000
2024-01-01T01:00:00Z,EURUSD,101,103,100,102,101.9,102.1,1100
`)

	source := NewCSVSource(path)
	bars, err := source.Load(optional.None[time.Time](), optional.None[time.Time]())

	suite.Require().NoError(err)
	suite.Require().Len(bars, 2)
	suite.Equal("EURUSD", bars[0].Symbol)
	suite.Equal(101.0, bars[0].Close)
	suite.Equal(101.1, bars[0].Ask)
	suite.Equal(time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), bars[1].Time)
}

func (suite *DataSourceTestSuite) TestCSVSourceMissingFile() {
	source := NewCSVSource(filepath.Join(suite.T().TempDir(), "missing.csv"))

	_, err := source.Load(optional.None[time.Time](), optional.None[time.Time]())

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *DataSourceTestSuite) TestCSVSourceEmptyFile() {
	path := suite.writeCSV("time,symbol,open,high,low,close,bid,ask,volume\n")

	source := NewCSVSource(path)
	_, err := source.Load(optional.None[time.Time](), optional.None[time.Time]())

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNoBarsLoaded))
}

func (suite *DataSourceTestSuite) TestCSVSourceUnordered() {
	path := suite.writeCSV(`time,symbol,open,high,low,close,bid,ask,volume
2024-01-01T02:00:00Z,EURUSD,100,102,99,101,100.9,101.1,1000
2024-01-01T01:00:00Z,EURUSD,101,103,100,102,101.9,102.1,1100
`)

	source := NewCSVSource(path)
	_, err := source.Load(optional.None[time.Time](), optional.None[time.Time]())

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataUnordered))
}
