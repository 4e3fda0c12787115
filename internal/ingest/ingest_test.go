package ingest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/store"
)

func f64(v float64) *float64 { return &v }

func validRecord() model.RawRecord {
	return model.RawRecord{
		Category:        "durable_medical_equipment",
		ItemService:     "Standard walker",
		CostPerUnit:     125,
		CostRangeMin:    f64(90),
		CostRangeMax:    f64(200),
		Frequency:       "Replace every 5 years",
		Sources:         []string{"https://example.com/walker"},
		ConfidenceScore: 0.85,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*model.RawRecord)
		fields []string
	}{
		{"valid", func(*model.RawRecord) {}, nil},
		{"no range", func(r *model.RawRecord) { r.CostRangeMin, r.CostRangeMax = nil, nil }, nil},
		{"alias category", func(r *model.RawRecord) { r.Category = "DME" }, nil},
		{"unknown category", func(r *model.RawRecord) { r.Category = "snacks" }, []string{"category"}},
		{"missing name", func(r *model.RawRecord) { r.ItemService = "  " }, []string{"item_service"}},
		{"negative cost", func(r *model.RawRecord) { r.CostPerUnit = -5; r.CostRangeMin = nil }, []string{"cost_per_unit"}},
		{"unreadable cost", func(r *model.RawRecord) { r.CostPerUnit = math.NaN() }, []string{"cost_per_unit"}},
		{"inverted range", func(r *model.RawRecord) { r.CostRangeMin, r.CostRangeMax = f64(300), f64(100) }, []string{"cost_range"}},
		{"below range", func(r *model.RawRecord) { r.CostPerUnit = 50 }, []string{"cost_per_unit"}},
		{"above range", func(r *model.RawRecord) { r.CostPerUnit = 250 }, []string{"cost_per_unit"}},
		{"only max", func(r *model.RawRecord) { r.CostRangeMin = nil; r.CostPerUnit = 250 }, []string{"cost_per_unit"}},
		{"negative bound", func(r *model.RawRecord) { r.CostRangeMin = f64(-1) }, []string{"cost_range_min"}},
		{"confidence above one", func(r *model.RawRecord) { r.ConfidenceScore = 1.2 }, []string{"confidence_score"}},
		{"confidence negative", func(r *model.RawRecord) { r.ConfidenceScore = -0.1 }, []string{"confidence_score"}},
		{"several", func(r *model.RawRecord) { r.ItemService = ""; r.ConfidenceScore = 2 }, []string{"item_service", "confidence_score"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := validRecord()
			tt.mutate(&rec)

			errs := Validate(rec)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestIngest_AdmitsValidRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	plan := &model.LifeCarePlan{CaseID: "case-1", Params: model.ProjectionParams{
		InflationRate: 0.025, DiscountRate: 0.03, GeographicFactor: 1.1, DurationYears: 10,
	}}
	require.NoError(t, st.CreatePlan(ctx, plan))

	bad := validRecord()
	bad.ItemService = "Inverted"
	bad.CostRangeMin, bad.CostRangeMax = f64(500), f64(100)

	records := []model.RawRecord{
		validRecord(),
		bad,
		{Category: "medications", ItemService: "Baclofen 10mg", CostPerUnit: 30, Frequency: "monthly", ConfidenceScore: 0.7},
	}

	report, err := Ingest(ctx, st, cost.NewCalculator(cost.DefaultRates(), nil), plan.ID, records)
	require.NoError(t, err)
	require.Len(t, report.Admitted, 2)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, 1, report.Rejected[0].Index)
	assert.Equal(t, "Inverted", report.Rejected[0].Name)
	require.Len(t, report.Rejected[0].Errors, 1)
	assert.Equal(t, "cost_range", report.Rejected[0].Errors[0].Field)

	items, err := st.ListItems(ctx, plan.ID, store.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	walker := items[0]
	assert.Equal(t, report.Admitted[0], walker.ID)
	assert.Equal(t, model.CategoryDurableMedicalEquipment, walker.Category)
	assert.Equal(t, model.StatusPending, walker.Status)
	assert.Equal(t, int64(1), walker.Version)
	assert.InDelta(t, 0.2, walker.AnnualUnits, 1e-9)
	assert.InDelta(t, 25.0, walker.BaseAnnualCost, 1e-9)
	require.NotNil(t, walker.Projection)
	assert.InDelta(t, 27.5, walker.Projection.AdjustedAnnualCost, 1e-9)
	assert.Len(t, walker.Projection.AnnualBreakdown, 10)

	baclofen := items[1]
	assert.Equal(t, []string{}, baclofen.Sources)
	assert.InDelta(t, 360.0, baclofen.BaseAnnualCost, 1e-9)
}

func TestIngest_UnknownPlan(t *testing.T) {
	_, err := Ingest(context.Background(), store.NewMemory(), cost.NewCalculator(cost.DefaultRates(), nil), "missing", nil)
	assert.True(t, model.IsNotFound(err))
}

func TestIngest_FinalizedPlan(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	plan := &model.LifeCarePlan{CaseID: "case-1", Params: model.ProjectionParams{GeographicFactor: 1, DurationYears: 1}}
	require.NoError(t, st.CreatePlan(ctx, plan))
	_, err := st.FinalizePlan(ctx, plan.ID, "Dr. Smith", "dr.smith", plan.CreatedAt)
	require.NoError(t, err)

	_, err = Ingest(ctx, st, cost.NewCalculator(cost.DefaultRates(), nil), plan.ID, []model.RawRecord{validRecord()})
	assert.True(t, model.IsPlanFinalized(err))
}

const agentPayload = `{
  "research_items": [
    {"item_name": "Physiatry follow-up", "price": "$250.00", "frequency": "2x/year", "sources": "https://a.example; https://b.example", "confidence_score": 0.9}
  ],
  "durable_medical_equipment": [
    {"item_service": "Power wheelchair", "cost_per_unit": 18500, "cost_range_min": 15000, "cost_range_max": 25000,
     "replacement_frequency": "every 5 years", "sources": ["https://c.example"], "cpt_code": "K0856", "confidence_score": 0.82},
    {"name": "Shower chair", "category": "medical_supplies", "cost_per_unit": "n/a", "confidence_score": "75%"}
  ],
  "summary": "not a list"
}`

func TestDecodeJSON_CategoryKeyed(t *testing.T) {
	recs, err := DecodeJSON(strings.NewReader(agentPayload))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "research_items", recs[0].Category)
	assert.Equal(t, "Physiatry follow-up", recs[0].ItemService)
	assert.InDelta(t, 250.0, recs[0].CostPerUnit, 1e-9)
	assert.Equal(t, "2x/year", recs[0].Frequency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, recs[0].Sources)

	assert.Equal(t, "durable_medical_equipment", recs[1].Category)
	assert.Equal(t, "every 5 years", recs[1].Frequency)
	require.NotNil(t, recs[1].CostRangeMin)
	assert.InDelta(t, 15000.0, *recs[1].CostRangeMin, 1e-9)
	assert.Equal(t, "K0856", recs[1].CPTCode)

	assert.Equal(t, "medical_supplies", recs[2].Category)
	assert.True(t, math.IsNaN(recs[2].CostPerUnit))
	assert.InDelta(t, 0.75, recs[2].ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"cost_per_unit"}, fieldsOf(Validate(recs[2])))
}

func TestDecodeJSON_FlatArray(t *testing.T) {
	recs, err := DecodeJSON(strings.NewReader(`[{"category": "medications", "item_service": "Baclofen", "cost_per_unit": 30}]`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "medications", recs[0].Category)
	assert.Equal(t, []string{}, recs[0].Sources)
}

func TestDecodeJSON_Errors(t *testing.T) {
	_, err := DecodeJSON(strings.NewReader(`"just a string"`))
	require.Error(t, err)

	_, err = DecodeJSON(strings.NewReader(`[{"item_service": }]`))
	require.Error(t, err)

	recs, err := DecodeJSON(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func fieldsOf(errs []*model.ValidationError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Item/Service":     "item_service",
		"Cost ($)":         "cost_per_unit",
		"CPT Code":         "cpt_code",
		" Confidence ":     "confidence_score",
		"Cost Range Min":   "cost_range_min",
		"Frequency":        "frequency",
		"Sources":          "sources",
		"replacement-freq": "replacement_freq",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeHeader(in), in)
	}
}

const reviewCSV = `Category,Item/Service,Cost ($),Cost Range Min,Cost Range Max,Frequency,Sources,Confidence
medications,Baclofen 10mg,30,25,40,monthly,https://rx.example|https://rx2.example,0.9
dme,Walker,125,,,annually,https://w.example,0.8

home_modifications,Ramp,2500,3000,4000,once,,0.5
`

func TestDecodeCSV(t *testing.T) {
	recs, err := DecodeCSV(context.Background(), strings.NewReader(reviewCSV), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "Baclofen 10mg", recs[0].ItemService)
	assert.InDelta(t, 30.0, recs[0].CostPerUnit, 1e-9)
	require.NotNil(t, recs[0].CostRangeMax)
	assert.InDelta(t, 40.0, *recs[0].CostRangeMax, 1e-9)
	assert.Equal(t, []string{"https://rx.example", "https://rx2.example"}, recs[0].Sources)
	assert.InDelta(t, 0.9, recs[0].ConfidenceScore, 1e-9)

	assert.Nil(t, recs[1].CostRangeMin)
	assert.Equal(t, "dme", recs[1].Category)
	assert.Empty(t, Validate(recs[1]))

	assert.Equal(t, []string{"cost_per_unit"}, fieldsOf(Validate(recs[2])))
}

func TestDecodeCSV_MissingItemColumn(t *testing.T) {
	_, err := DecodeCSV(context.Background(), strings.NewReader("category,cost\nmedications,1\n"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no item column")
}

func TestDecodeCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecodeCSV(ctx, strings.NewReader(reviewCSV), CSVOptions{})
	require.Error(t, err)
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "research.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestDecodeXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Research": {
			{"Life Care Plan Research"},
			{"Category", "Name", "Price", "Replacement Frequency", "Sources", "Confidence"},
			{"prosthetics", "Below-knee prosthesis", "$12,500", "every 3-5 years", "https://p.example", "0.88"},
		},
	})

	recs, err := DecodeXLSX(path, XLSXOptions{SheetName: "Research", SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "prosthetics", recs[0].Category)
	assert.Equal(t, "Below-knee prosthesis", recs[0].ItemService)
	assert.InDelta(t, 12500.0, recs[0].CostPerUnit, 1e-9)
	assert.Equal(t, "every 3-5 years", recs[0].Frequency)
	assert.Empty(t, Validate(recs[0]))
}

func TestDecodeXLSX_SheetErrors(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"Name"}}})

	_, err := DecodeXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	_, err = DecodeXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	_, err = DecodeXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
}

func TestDecodeFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(agentPayload), 0o644))
	recs, err := DecodeFile(ctx, jsonPath, XLSXOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	csvPath := filepath.Join(dir, "review.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(reviewCSV), 0o644))
	recs, err = DecodeFile(ctx, csvPath, XLSXOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = DecodeFile(ctx, txtPath, XLSXOptions{})
	require.Error(t, err)
}
