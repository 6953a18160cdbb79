package normalizer

import "time"

// Tariff 电价（USD/kWh）
type Tariff interface {
	RateAt(bucket time.Time, buildingID string) float64
}

// ConstantTariff 固定电价
type ConstantTariff struct {
	USDPerKWh float64
}

// RateAt 实现 Tariff
func (t ConstantTariff) RateAt(time.Time, string) float64 {
	return t.USDPerKWh
}

// TimeOfUseTariff 分时电价；峰时段为 UTC 小时 [PeakStartHour, PeakEndHour)
// Start > End 表示跨零点
type TimeOfUseTariff struct {
	PeakUSDPerKWh    float64
	OffPeakUSDPerKWh float64
	PeakStartHour    int
	PeakEndHour      int
}

// RateAt 实现 Tariff
func (t TimeOfUseTariff) RateAt(bucket time.Time, _ string) float64 {
	if t.isPeak(bucket.UTC().Hour()) {
		return t.PeakUSDPerKWh
	}
	return t.OffPeakUSDPerKWh
}

func (t TimeOfUseTariff) isPeak(hour int) bool {
	if t.PeakStartHour == t.PeakEndHour {
		return false
	}
	if t.PeakStartHour < t.PeakEndHour {
		return hour >= t.PeakStartHour && hour < t.PeakEndHour
	}
	return hour >= t.PeakStartHour || hour < t.PeakEndHour
}
