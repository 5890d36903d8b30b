package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// Point is one balance observation.
type Point struct {
	At      time.Time
	Balance float64
	Equity  float64
}

// BalanceInput 描述一张余额/净值图。
type BalanceInput struct {
	Context  context.Context
	Symbol   string
	Subtitle string
	Points   []Point
	Location *time.Location
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBalance       = "#3b82f6"
	colorEquity        = "#34d399"
	colorEquityEMA     = "#fbbf24"
	colorFloatUp       = "#34d399"
	colorFloatDown     = "#f87171"

	chartWidthPx    = 1400
	balanceHeightPx = 520
	floatHeightPx   = 240

	emaPeriod = 20
)

// BuildBalanceHTML renders the balance and equity lines plus a floating P&L bar chart.
func BuildBalanceHTML(in BalanceInput) ([]byte, string, error) {
	if len(in.Points) == 0 {
		return nil, "", fmt.Errorf("no balance samples for %s", in.Symbol)
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	xAxis := make([]string, len(in.Points))
	balances := make([]float64, len(in.Points))
	equities := make([]float64, len(in.Points))
	floating := make([]float64, len(in.Points))
	for i, p := range in.Points {
		xAxis[i] = p.At.In(loc).Format("01-02 15:04")
		balances[i] = p.Balance
		equities[i] = p.Equity
		floating[i] = p.Equity - p.Balance
	}

	minVal, maxVal := bounds(balances, equities)
	padding := (maxVal - minVal) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxVal)*0.01)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", balanceHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s balance", strings.ToUpper(in.Symbol)),
			Subtitle:      in.Subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
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
			Min:       round(minVal-padding, 2),
			Max:       round(maxVal+padding, 2),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries("Balance", toLineData(balances, len(xAxis)), charts.WithLineStyleOpts(opts.LineStyle{Color: colorBalance, Width: 2}))
	line.AddSeries("Equity", toLineData(equities, len(xAxis)), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	if ema := equityEMA(equities); ema != nil {
		line.AddSeries(fmt.Sprintf("EMA%d", emaPeriod), toLineData(ema, len(xAxis)), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquityEMA, Width: 1}))
	}

	page.AddCharts(line, buildFloatingChart(xAxis, floating))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, "", err
	}
	first, last := in.Points[0], in.Points[len(in.Points)-1]
	desc := fmt.Sprintf("%s | %s → %s | balance %.2f → %.2f | equity %.2f",
		strings.ToUpper(in.Symbol),
		first.At.In(loc).Format("01-02 15:04"), last.At.In(loc).Format("01-02 15:04"),
		first.Balance, last.Balance, last.Equity)
	return buf.Bytes(), desc, nil
}

// RenderBalancePNG renders the chart through a headless browser.
func RenderBalancePNG(in BalanceInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(in.Context); err != nil {
		return ImageResult{}, err
	}
	html, desc, err := BuildBalanceHTML(in)
	if err != nil {
		return ImageResult{}, err
	}
	png, err := renderHTMLToPNG(in.Context, html, chartWidthPx, balanceHeightPx+floatHeightPx+40)
	if err != nil {
		return ImageResult{}, err
	}
	return ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_balance.png", strings.ToLower(in.Symbol)),
		Description: desc,
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildFloatingChart(xAxis []string, floating []float64) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", floatHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Floating P&L", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.BarData, len(floating))
	for i, v := range floating {
		color := colorFloatDown
		if v >= 0 {
			color = colorFloatUp
		}
		data[i] = opts.BarData{Value: round(v, 2), ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.7)}}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Floating", data)
	return bar
}

// equityEMA returns nil until there are enough samples for one full period.
func equityEMA(equities []float64) []float64 {
	if len(equities) < emaPeriod {
		return nil
	}
	return talib.Ema(equities, emaPeriod)
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
		// talib 前 period-1 个值为 0
		if math.IsNaN(val) || val == 0 {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 2)}
		}
	}
	return line
}

func bounds(series ...[]float64) (minVal, maxVal float64) {
	first := true
	for _, s := range series {
		for _, v := range s {
			if first {
				minVal, maxVal, first = v, v, false
				continue
			}
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
