package indicators

// ========== 动量指标 ==========

// RSI 相对强弱指数（EMA 平滑），数据不足返回 nil
func RSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	changes := Diff(closes, 1)
	gains := make([]float64, len(changes))
	losses := make([]float64, len(changes))
	for i, change := range changes {
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	avgGain := EMA(gains, period)
	avgLoss := EMA(losses, period)
	if avgGain == nil || avgLoss == nil {
		return nil
	}

	result := make([]float64, len(avgGain))
	for i := range avgGain {
		switch {
		case avgLoss[i] == 0 && avgGain[i] == 0:
			result[i] = 50
		case avgLoss[i] == 0:
			result[i] = 100
		default:
			rs := avgGain[i] / avgLoss[i]
			result[i] = 100 - 100/(1+rs)
		}
	}
	return result
}

// LastRSI 最新 RSI 值，数据不足返回 (50, false)
func LastRSI(closes []float64, period int) (float64, bool) {
	rsi := RSI(closes, period)
	if len(rsi) == 0 {
		return 50, false
	}
	return rsi[len(rsi)-1], true
}
