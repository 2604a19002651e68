package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/banshee-data/rctune/internal/tuner"
)

// Sheet names used by SaveXLSX.
const (
	SummarySheet     = "Summary"
	IterationsSheet  = "Iterations"
	SensitivitySheet = "Sensitivity"
)

// SaveXLSX writes a workbook with a run summary, every iteration, and the
// sensitivity figures when sens is non-nil. Values are stored in base SI
// units.
func SaveXLSX(filename string, res *tuner.Result, sens *tuner.SensitivityReport) error {
	if res == nil {
		return fmt.Errorf("no result to save")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return err
	}
	summary := [][2]interface{}{
		{"Run ID", res.RunID},
		{"Strategy", res.Strategy},
		{"Status", string(res.Status)},
		{"Target (Hz)", res.TargetHz},
		{"Tolerance (Hz)", res.ToleranceHz},
		{"Best R (Ω)", res.Best.Candidate.Resistance},
		{"Best C (F)", res.Best.Candidate.Capacitance},
		{"Best cutoff (Hz)", res.Best.FrequencyHz},
		{"Best error (Hz)", res.Best.AbsError},
		{"Best iteration", res.Best.Iteration},
		{"Within tolerance", res.WithinTolerance()},
		{"Iterations", len(res.Iterations)},
		{"Oracle calls", res.OracleCalls},
		{"Started", res.StartedAt},
		{"Completed", res.CompletedAt},
	}
	for i, kv := range summary {
		row := i + 1
		f.SetCellValue(SummarySheet, cell(1, row), kv[0])
		f.SetCellValue(SummarySheet, cell(2, row), kv[1])
	}

	if _, err := f.NewSheet(IterationsSheet); err != nil {
		return err
	}
	headers := []string{"Iteration", "Phase", "R (Ω)", "C (F)", "Cutoff (Hz)", "Found", "Error (Hz)", "Best", "Jittered", "Probes"}
	for i, h := range headers {
		f.SetCellValue(IterationsSheet, cell(i+1, 1), h)
	}
	for i, it := range res.Iterations {
		row := i + 2
		values := []interface{}{it.Index, it.Phase, it.Candidate.Resistance, it.Candidate.Capacitance,
			it.FrequencyHz, it.Found, it.AbsError, it.Best, it.Jittered, it.Probes}
		for j, v := range values {
			f.SetCellValue(IterationsSheet, cell(j+1, row), v)
		}
	}

	if sens != nil {
		if _, err := f.NewSheet(SensitivitySheet); err != nil {
			return err
		}
		rows := [][2]interface{}{
			{"Nominal R (Ω)", sens.Nominal.Resistance},
			{"Nominal C (F)", sens.Nominal.Capacitance},
			{"Tolerance (%)", sens.TolerancePct},
			{"Runs", sens.Runs},
			{"Samples", sens.Samples},
			{"Misses", sens.Misses},
			{"Clamped", sens.Clamped},
			{"Min (Hz)", sens.MinHz},
			{"Max (Hz)", sens.MaxHz},
			{"Mean (Hz)", sens.MeanHz},
			{"StdDev (Hz)", sens.StdDevHz},
		}
		for i, kv := range rows {
			f.SetCellValue(SensitivitySheet, cell(1, i+1), kv[0])
			f.SetCellValue(SensitivitySheet, cell(2, i+1), kv[1])
		}
	}

	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
