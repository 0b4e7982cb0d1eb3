package indicator

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

type IndicatorTestSuite struct {
	suite.Suite
}

func TestIndicatorSuite(t *testing.T) {
	suite.Run(t, new(IndicatorTestSuite))
}

func bars(closes ...float64) []types.Bar {
	result := make([]types.Bar, len(closes))
	for i, c := range closes {
		result[i] = types.Bar{Symbol: "EURUSD", Close: c}
	}

	return result
}

func (suite *IndicatorTestSuite) TestSMARejectsInvalidPeriod() {
	_, err := NewSMA(0)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *IndicatorTestSuite) TestSMAWarmup() {
	sma, err := NewSMA(3)
	suite.Require().NoError(err)

	for _, bar := range bars(10, 11) {
		sma.Update(bar)

		_, ok := sma.Value()
		suite.False(ok)
	}

	sma.Update(types.Bar{Close: 12})

	value, ok := sma.Value()
	suite.True(ok)
	suite.InDelta(11, value, 1e-9)
}

func (suite *IndicatorTestSuite) TestSMASlidesWindow() {
	sma, err := NewSMA(3)
	suite.Require().NoError(err)

	for _, bar := range bars(10, 11, 12, 16) {
		sma.Update(bar)
	}

	value, ok := sma.Value()
	suite.True(ok)
	suite.InDelta(13, value, 1e-9)
	suite.Equal(3, sma.MinPeriod())
}

func (suite *IndicatorTestSuite) TestRSIRejectsInvalidPeriod() {
	_, err := NewRSI(-1)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *IndicatorTestSuite) TestRSIWarmupNeedsExtraBar() {
	rsi, err := NewRSI(2)
	suite.Require().NoError(err)
	suite.Equal(3, rsi.MinPeriod())

	for _, bar := range bars(10, 11) {
		rsi.Update(bar)

		_, ok := rsi.Value()
		suite.False(ok)
	}

	rsi.Update(types.Bar{Close: 12})

	_, ok := rsi.Value()
	suite.True(ok)
}

func (suite *IndicatorTestSuite) TestRSIAllGainsIsHundred() {
	rsi, err := NewRSI(3)
	suite.Require().NoError(err)

	for _, bar := range bars(10, 11, 12, 13) {
		rsi.Update(bar)
	}

	value, ok := rsi.Value()
	suite.True(ok)
	suite.InDelta(100, value, 1e-9)
}

func (suite *IndicatorTestSuite) TestRSIBalancedIsFifty() {
	rsi, err := NewRSI(2)
	suite.Require().NoError(err)

	// One gain of 2 and one loss of 2 over the window.
	for _, bar := range bars(10, 12, 10) {
		rsi.Update(bar)
	}

	value, ok := rsi.Value()
	suite.True(ok)
	suite.InDelta(50, value, 1e-9)
}
