package visualiser

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/cloudmotion/internal/httputil"
)

// maxChartPoints caps the points drawn per layer in the HTML view.
const maxChartPoints = 20000

// HandleScene renders a top-down (X/Y) view of the latest scene. The
// query parameter kind selects "dynamic" or "detection" (the default).
func (p *Publisher) HandleScene(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = KindDetection
	}
	if kind != KindDynamic && kind != KindDetection {
		httputil.BadRequest(w, fmt.Sprintf("unknown scene kind %q", kind))
		return
	}
	s, ok := p.Latest(kind)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no %s scene available", kind))
		return
	}

	var buf bytes.Buffer
	if err := renderScene(&buf, s); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render scene: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderScene(buf *bytes.Buffer, s *Scene) error {
	maxAbs := 0.0
	extend := func(x, y float64) {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
	}

	scatter := charts.NewScatter()
	for _, l := range s.Layers {
		stride := 1
		if len(l.Points) > maxChartPoints {
			stride = (len(l.Points) + maxChartPoints - 1) / maxChartPoints
		}
		data := make([]opts.ScatterData, 0, len(l.Points)/stride+1)
		for i := 0; i < len(l.Points); i += stride {
			pt := l.Points[i]
			if !finiteVec(pt) {
				continue
			}
			extend(pt.X, pt.Y)
			data = append(data, opts.ScatterData{Value: []interface{}{pt.X, pt.Y}})
		}
		scatter.AddSeries(l.Name, data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: int(l.PointSize)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: l.Color.Hex()}))
	}

	if len(s.Labels) > 0 {
		data := make([]opts.ScatterData, 0, len(s.Labels))
		for _, l := range s.Labels {
			data = append(data, opts.ScatterData{Name: l.Text, Value: []interface{}{l.Position.X, l.Position.Y}})
		}
		arrows := make([]opts.MarkLineNameCoordItem, 0, len(s.Arrows))
		for _, a := range s.Arrows {
			extend(a.To.X, a.To.Y)
			arrows = append(arrows, opts.MarkLineNameCoordItem{
				Name:        a.ID,
				Coordinate0: []interface{}{a.From.X, a.From.Y},
				Coordinate1: []interface{}{a.To.X, a.To.Y},
			})
		}
		scatter.AddSeries("velocities", data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: Red.Hex()}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}", Position: "right"}),
			charts.WithMarkLineNameCoordItemOpts(arrows...))
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	subtitle := fmt.Sprintf("frame=%s ts=%s points=%d velocities=%d",
		s.FrameID, s.Timestamp.UTC().Format(time.RFC3339Nano), s.PointCount(), len(s.Labels))
	if s.Skipped != "" {
		subtitle += " skipped=" + s.Skipped
	}
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "cloudmotion " + s.Kind, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Kind + " scene", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	return scatter.Render(buf)
}
