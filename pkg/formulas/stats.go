// Package formulas provides statistical helpers for portfolio inputs.
package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base for daily series.
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Variance(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from daily returns
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// Covariance calculates the covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// ExpectedReturns computes annualized mean returns per asset from daily
// price histories. All histories must have the same length.
func ExpectedReturns(prices [][]float64) ([]float64, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("at least one price series is required")
	}

	out := make([]float64, len(prices))
	for i, series := range prices {
		if len(series) < 2 {
			return nil, fmt.Errorf("price series %d too short: need at least 2 points", i)
		}
		out[i] = Mean(CalculateReturns(series)) * TradingDaysPerYear
	}
	return out, nil
}

// CovarianceMatrix computes the annualized covariance matrix of daily
// returns derived from per-asset price histories.
func CovarianceMatrix(prices [][]float64) ([][]float64, error) {
	n := len(prices)
	if n == 0 {
		return nil, fmt.Errorf("at least one price series is required")
	}

	returns := make([][]float64, n)
	length := -1
	for i, series := range prices {
		r := CalculateReturns(series)
		if len(r) == 0 {
			return nil, fmt.Errorf("price series %d too short: need at least 2 points", i)
		}
		if length == -1 {
			length = len(r)
		} else if len(r) != length {
			return nil, fmt.Errorf("price series %d length mismatch: %d vs %d", i, len(r)+1, length+1)
		}
		returns[i] = r
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			c := stat.Covariance(returns[i], returns[j], nil) * TradingDaysPerYear
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov, nil
}
