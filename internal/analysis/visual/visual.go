package visual

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"pulse/internal/market"
	"pulse/internal/signal"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEmaFast       = "#3b82f6"
	colorEmaSlow       = "#f472b6"

	chartWidthPx   = 1400
	klineHeightPx  = 560
	volumeHeightPx = 240
)

// ChartInput bundles everything one rendered page needs. Signals are plotted
// as markers at the candle closest to their creation time.
type ChartInput struct {
	Symbol     string
	Interval   string
	Candles    []market.Candle
	FastPeriod int
	SlowPeriod int
	Signals    []signal.Signal
}

// RenderHTML writes a self-contained chart page (candlesticks, moving
// averages, volume, signal markers) to w.
func RenderHTML(w io.Writer, input ChartInput) error {
	if input.Symbol == "" {
		return fmt.Errorf("symbol required for chart render")
	}
	if len(input.Candles) == 0 {
		return fmt.Errorf("no candles to render for %s", input.Symbol)
	}
	if input.FastPeriod <= 0 {
		input.FastPeriod = 9
	}
	if input.SlowPeriod <= 0 {
		input.SlowPeriod = 21
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(input.Candles)
	page.AddCharts(
		buildKlineChart(input, xAxis),
		buildVolumeChart(input.Interval, xAxis, input.Candles),
	)
	return page.Render(w)
}

func buildKlineChart(input ChartInput, xAxis []string) *charts.Kline {
	minPrice, maxPrice := priceBounds(input.Candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(input.Symbol), input.Interval),
			Subtitle:      fmt.Sprintf("EMA %d/%d | %d signals", input.FastPeriod, input.SlowPeriod, len(input.Signals)),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)

	data := make([]opts.KlineData, 0, len(input.Candles))
	for _, c := range input.Candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data,
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
		charts.WithMarkPointNameCoordItemOpts(signalMarkers(input.Candles, xAxis, input.Signals)...),
	)

	ema := buildEMALine(input.Candles, input.FastPeriod, input.SlowPeriod)
	ema.SetXAxis(xAxis)
	kline.Overlap(ema)
	return kline
}

// signalMarkers places each signal at the candle whose open time is closest
// to the signal's creation.
func signalMarkers(candles []market.Candle, xAxis []string, signals []signal.Signal) []opts.MarkPointNameCoordItem {
	items := make([]opts.MarkPointNameCoordItem, 0, len(signals))
	for _, sig := range signals {
		idx := candleIndexAt(candles, sig.CreatedAt.UnixMilli())
		if idx < 0 {
			continue
		}
		color := colorBull
		symbol := "arrow"
		if sig.Action == signal.ActionSell {
			color = colorBear
		}
		items = append(items, opts.MarkPointNameCoordItem{
			Name:       fmt.Sprintf("%s %.0f", sig.Action, sig.Confidence),
			Coordinate: []interface{}{xAxis[idx], round(sig.ReferencePrice, 4)},
			Symbol:     symbol,
			SymbolSize: 24,
			ItemStyle:  &opts.ItemStyle{Color: color},
		})
	}
	return items
}

func candleIndexAt(candles []market.Candle, atMs int64) int {
	for i, c := range candles {
		if atMs >= c.OpenTime && atMs <= c.CloseTime {
			return i
		}
	}
	if len(candles) > 0 && atMs > candles[len(candles)-1].CloseTime {
		return len(candles) - 1
	}
	return -1
}

func buildEMALine(candles []market.Candle, fastPeriod, slowPeriod int) *charts.Line {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	if len(closes) >= slowPeriod {
		line.AddSeries(fmt.Sprintf("EMA%d", fastPeriod), toLineData(talib.Ema(closes, fastPeriod), len(candles)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaFast, Width: 2}))
		line.AddSeries(fmt.Sprintf("EMA%d", slowPeriod), toLineData(talib.Ema(closes, slowPeriod), len(candles)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaSlow, Width: 2}))
	}
	return line
}

func buildVolumeChart(interval string, xAxis []string, candles []market.Candle) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Volume %s", interval), Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(candles))
	for i, c := range candles {
		color := colorBear
		if c.Close >= c.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value:     c.Volume,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
	}
	return x
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) || val == 0 {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}
