package training

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/jedib0t/go-pretty/v6/table"
	"gonum.org/v1/gonum/stat"

	"quantlab/internal/ml/regime"
)

const SummaryFileName = "training_summary.csv"

type Averages struct {
	Accuracy     float64            `json:"accuracy"`
	SharpeRatio  float64            `json:"sharpe_ratio"`
	MaxDrawdown  float64            `json:"max_drawdown"`
	ProfitFactor float64            `json:"profit_factor"`
	WinRate      float64            `json:"win_rate"`
	Regime       map[string]float64 `json:"regime_accuracy"`
}

type Summary struct {
	RunID    string    `json:"run_id"`
	Family   string    `json:"family"`
	Outcomes []Outcome `json:"outcomes"`
	Success  int       `json:"success"`
	Skipped  int       `json:"skipped"`
	Errors   int       `json:"errors"`
	Averages Averages  `json:"averages"`
}

// Summarize tallies outcomes and averages the metrics of successful runs.
// Infinite profit factors are left out of the average.
func Summarize(runID, family string, outcomes []Outcome) *Summary {
	s := &Summary{RunID: runID, Family: family, Outcomes: outcomes}
	var acc, sharpe, dd, pf, win []float64
	regimes := map[string][]float64{}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Success++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Errors++
		}
		if o.Status != StatusSuccess || o.Metadata == nil {
			continue
		}
		m := o.Metadata
		acc = append(acc, m.Accuracy)
		sharpe = append(sharpe, m.SharpeRatio)
		dd = append(dd, m.MaxDrawdown)
		win = append(win, m.WinRate)
		if m.ProfitFactor != nil {
			pf = append(pf, *m.ProfitFactor)
		}
		for r, v := range m.RegimeAccuracy {
			regimes[r] = append(regimes[r], v)
		}
	}
	s.Averages = Averages{
		Accuracy:     mean(acc),
		SharpeRatio:  mean(sharpe),
		MaxDrawdown:  mean(dd),
		ProfitFactor: mean(pf),
		WinRate:      mean(win),
		Regime:       map[string]float64{},
	}
	for _, r := range []regime.Trend{regime.Bull, regime.Bear, regime.Sideways} {
		if vals := regimes[string(r)]; len(vals) > 0 {
			s.Averages.Regime[string(r)] = mean(vals)
		}
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

type summaryRow struct {
	Instrument   string  `dataframe:"instrument"`
	Family       string  `dataframe:"model_family"`
	Status       string  `dataframe:"status"`
	Reason       string  `dataframe:"reason"`
	Sharpe       float64 `dataframe:"sharpe_ratio"`
	ProfitFactor string  `dataframe:"profit_factor"`
	WinRate      float64 `dataframe:"win_rate"`
	Trades       int     `dataframe:"num_trades"`
	Accuracy     float64 `dataframe:"accuracy"`
	MaxDrawdown  float64 `dataframe:"max_drawdown"`
	TotalReturn  float64 `dataframe:"total_return"`
	Samples      int     `dataframe:"samples"`
	Deployable   bool    `dataframe:"deployable"`
	Tier         string  `dataframe:"quality_tier"`
	Validation   string  `dataframe:"validation"`
}

func (s *Summary) rows() []summaryRow {
	out := make([]summaryRow, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		r := summaryRow{Instrument: o.Instrument, Family: o.Family, Status: string(o.Status), Reason: o.Reason}
		if m := o.Metadata; m != nil {
			r.Sharpe = m.SharpeRatio
			r.ProfitFactor = formatPF(m.ProfitFactor)
			r.WinRate = m.WinRate
			r.Trades = m.NumTrades
			r.Accuracy = m.Accuracy
			r.MaxDrawdown = m.MaxDrawdown
			r.TotalReturn = m.TotalReturn
			r.Samples = m.Samples
			r.Deployable = m.Deployable
			r.Tier = string(m.QualityTier)
			r.Validation = m.Validation
		}
		out = append(out, r)
	}
	return out
}

// WriteCSV writes one row per instrument, best Sharpe first.
func (s *Summary) WriteCSV(w io.Writer) error {
	rows := s.rows()
	if len(rows) == 0 {
		return fmt.Errorf("summary has no outcomes")
	}
	df := dataframe.LoadStructs(rows).Arrange(dataframe.RevSort("sharpe_ratio"))
	if df.Err != nil {
		return fmt.Errorf("build summary frame: %w", df.Err)
	}
	return df.WriteCSV(w)
}

func (s *Summary) WriteCSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := s.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Render prints the tally and the per-instrument table.
func (s *Summary) Render(w io.Writer) {
	fmt.Fprintf(w, "run %s: %d success, %d skipped, %d error\n", s.RunID, s.Success, s.Skipped, s.Errors)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("training summary (%s)", s.Family))
	t.AppendHeader(table.Row{"instrument", "status", "sharpe", "pf", "win rate", "trades", "accuracy", "max dd", "tier"})
	for _, r := range s.rows() {
		if r.Status != string(StatusSuccess) {
			t.AppendRow(table.Row{r.Instrument, r.Status, "", "", "", "", "", "", r.Reason})
			continue
		}
		t.AppendRow(table.Row{
			r.Instrument, r.Status,
			fmt.Sprintf("%.2f", r.Sharpe), r.ProfitFactor,
			fmt.Sprintf("%.2f%%", r.WinRate*100), r.Trades,
			fmt.Sprintf("%.2f%%", r.Accuracy*100), fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
			r.Tier,
		})
	}
	a := s.Averages
	t.AppendFooter(table.Row{
		"average", "",
		fmt.Sprintf("%.2f", a.SharpeRatio), fmt.Sprintf("%.2f", a.ProfitFactor),
		fmt.Sprintf("%.2f%%", a.WinRate*100), "",
		fmt.Sprintf("%.2f%%", a.Accuracy*100), fmt.Sprintf("%.2f%%", a.MaxDrawdown*100), "",
	})
	t.Render()

	for _, r := range []regime.Trend{regime.Bull, regime.Bear, regime.Sideways} {
		if v, ok := a.Regime[string(r)]; ok {
			fmt.Fprintf(w, "avg %s accuracy: %.2f%%\n", r, v*100)
		}
	}
}

func formatPF(pf *float64) string {
	if pf == nil {
		return "inf"
	}
	return strconv.FormatFloat(*pf, 'f', 2, 64)
}
