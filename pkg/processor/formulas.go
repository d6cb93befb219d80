package processor

import "math"

// HeatIndex returns the apparent temperature in °C using the NOAA Rothfusz
// regression. Below 80°F the regression does not apply and tempC is returned.
func HeatIndex(tempC, humidity float64) float64 {
	t := tempC*9/5 + 32
	if t < 80 {
		return tempC
	}

	rh := humidity
	hi := -42.379 +
		2.04901523*t +
		10.14333127*rh -
		0.22475541*t*rh -
		0.00683783*t*t -
		0.05481717*rh*rh +
		0.00122874*t*t*rh +
		0.00085282*t*rh*rh -
		0.00000199*t*t*rh*rh

	return (hi - 32) * 5 / 9
}

const (
	magnusA = 17.27
	magnusB = 237.7
)

// DewPoint returns the dew point in °C (Magnus-Tetens approximation)
func DewPoint(tempC, humidity float64) float64 {
	alpha := (magnusA*tempC)/(magnusB+tempC) + math.Log(humidity/100)
	return (magnusB * alpha) / (magnusA - alpha)
}

// ComfortLevel scores temperature and humidity from 0 (uncomfortable) to 100.
// The ideal band is 20-24°C and 40-60% relative humidity.
func ComfortLevel(tempC, humidity float64) float64 {
	var tempScore float64
	switch {
	case tempC >= 20 && tempC <= 24:
		tempScore = 100
	case tempC >= 18 && tempC <= 26:
		tempScore = 80 - math.Abs(tempC-22)*10
	default:
		tempScore = 50 - math.Abs(tempC-22)*5
	}

	var humidityScore float64
	switch {
	case humidity >= 40 && humidity <= 60:
		humidityScore = 100
	case humidity >= 30 && humidity <= 70:
		humidityScore = 80 - math.Abs(humidity-50)
	default:
		humidityScore = 50 - math.Abs(humidity-50)*0.5
	}

	score := tempScore*0.6 + humidityScore*0.4
	if math.IsNaN(score) {
		return 0
	}
	return math.Min(100, math.Max(0, score))
}
