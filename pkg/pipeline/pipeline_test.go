package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"

	"github.com/dtnitsch/treasury-harvester/models"
	"github.com/dtnitsch/treasury-harvester/pkg/convert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, variant string) models.PipelineConfig {
	t.Helper()
	root := t.TempDir()
	cfg := models.DefaultConfig().Pipeline
	cfg.RawDir = filepath.Join(root, models.DefaultRawDir)
	cfg.CleanDir = filepath.Join(root, models.DefaultCleanDir)
	cfg.JSONLDir = filepath.Join(root, models.DefaultJSONLDir)
	cfg.ParquetDir = filepath.Join(root, models.DefaultParquetDir)
	cfg.Variant = variant
	if err := os.MkdirAll(cfg.RawDir, 0755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func seedRaw(t *testing.T, cfg models.PipelineConfig) {
	t.Helper()
	files := map[string]string{
		"treasury_rates_bills.csv":  "Date,4 WEEKS,EMPTY\n01/02/2024,5.28,\n01/03/2024,,\n",
		"treasury_rates_broken.csv": "Date,X\n1,\"open\n",
		"treasury_rates_long.csv":   "Date,LT COMPOSITE\n01/02/2024,4.31\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(cfg.RawDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func names(results []models.UnitResult) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Name+":"+string(r.Status))
	}
	return out
}

func TestRunJSONLVariant(t *testing.T) {
	cfg := testConfig(t, VariantJSONL)
	seedRaw(t, cfg)

	var console bytes.Buffer
	summary, err := Run(context.Background(), cfg, discardLogger(), &console)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantClean := []string{
		"treasury_rates_bills.csv:success",
		"treasury_rates_broken.csv:failed",
		"treasury_rates_long.csv:success",
	}
	if diff := cmp.Diff(wantClean, names(summary.Stage(models.StageClean))); diff != "" {
		t.Errorf("clean results mismatch (-want +got):\n%s", diff)
	}
	wantEncode := []string{"cleaned_treasury_rates_bills.csv:success", "cleaned_treasury_rates_long.csv:success"}
	if diff := cmp.Diff(wantEncode, names(summary.Stage(models.StageEncode))); diff != "" {
		t.Errorf("encode results mismatch (-want +got):\n%s", diff)
	}
	wantConvert := []string{"cleaned_treasury_rates_bills.jsonl:success", "cleaned_treasury_rates_long.jsonl:success"}
	if diff := cmp.Diff(wantConvert, names(summary.Stage(models.StageConvert))); diff != "" {
		t.Errorf("convert results mismatch (-want +got):\n%s", diff)
	}

	jsonl, err := os.ReadFile(filepath.Join(cfg.JSONLDir, "cleaned_treasury_rates_bills.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"Date":"01/02/2024","4 WEEKS":"5.28"}` + "\n" + `{"Date":"01/03/2024","4 WEEKS":"N/A"}` + "\n"
	if string(jsonl) != want {
		t.Errorf("jsonl content = %q, want %q", jsonl, want)
	}

	for _, part := range []string{"cleaned_treasury_rates_bills-part-0.parquet", "cleaned_treasury_rates_long-part-0.parquet"} {
		if _, err := os.Stat(filepath.Join(cfg.ParquetDir, part)); err != nil {
			t.Errorf("missing %s: %v", part, err)
		}
	}

	out := console.String()
	for _, s := range []string{"✓ clean treasury_rates_bills.csv (2 rows)", "✗ clean treasury_rates_broken.csv: parse_error", "4 WEEKS"} {
		if !strings.Contains(out, s) {
			t.Errorf("console output missing %q:\n%s", s, out)
		}
	}
	if got := ExitCode(summary, false); got != ExitPartial {
		t.Errorf("ExitCode() = %d, want %d", got, ExitPartial)
	}
	if got := ExitCode(summary, true); got != ExitOK {
		t.Errorf("ExitCode(allowPartial) = %d, want %d", got, ExitOK)
	}
}

func TestRunCSVVariantSkipsEncode(t *testing.T) {
	cfg := testConfig(t, VariantCSV)
	if err := os.WriteFile(filepath.Join(cfg.RawDir, "treasury_rates_a.csv"), []byte("A,B\n1,2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	summary, err := Run(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(summary.Stage(models.StageEncode)); n != 0 {
		t.Errorf("encode results = %d, want 0 for csv variant", n)
	}
	if _, err := os.Stat(cfg.JSONLDir); !os.IsNotExist(err) {
		t.Errorf("jsonl dir created for csv variant, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.ParquetDir, convert.PartName("cleaned_treasury_rates_a", 0))); err != nil {
		t.Errorf("missing partition: %v", err)
	}
	if got := ExitCode(summary, false); got != ExitOK {
		t.Errorf("ExitCode() = %d, want %d", got, ExitOK)
	}
	if st := summary.Stages[models.StageConvert]; st == nil || st.Rows != 1 {
		t.Errorf("convert stats = %+v, want 1 row", st)
	}
}

func TestRunHeaderOnlyFileSameForBothVariants(t *testing.T) {
	for _, variant := range []string{VariantCSV, VariantJSONL} {
		t.Run(variant, func(t *testing.T) {
			cfg := testConfig(t, variant)
			if err := os.WriteFile(filepath.Join(cfg.RawDir, "treasury_rates_new.csv"), []byte("Date,Rate\n"), 0644); err != nil {
				t.Fatal(err)
			}

			var console bytes.Buffer
			summary, err := Run(context.Background(), cfg, discardLogger(), &console)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			for _, r := range summary.Results {
				if r.Status != models.StatusSuccess {
					t.Errorf("%s %s status = %s (err %v), want success", r.Stage, r.Name, r.Status, r.Err)
				}
			}
			if got := ExitCode(summary, false); got != ExitOK {
				t.Errorf("ExitCode() = %d, want %d", got, ExitOK)
			}

			path := filepath.Join(cfg.ParquetDir, convert.PartName("cleaned_treasury_rates_new", 0))
			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("missing partition: %v", err)
			}
			defer f.Close()
			st, _ := f.Stat()
			pf, err := parquet.OpenFile(f, st.Size())
			if err != nil {
				t.Fatalf("parquet.OpenFile() error = %v", err)
			}
			if pf.NumRows() != 0 {
				t.Errorf("NumRows() = %d, want 0", pf.NumRows())
			}
			var cols []string
			for _, c := range pf.Schema().Columns() {
				cols = append(cols, c[0])
			}
			if diff := cmp.Diff([]string{"Date", "Rate"}, cols); diff != "" {
				t.Errorf("columns mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t, VariantJSONL)
	seedRaw(t, cfg)

	snapshot := func() map[string][]byte {
		out := make(map[string][]byte)
		for _, dir := range []string{cfg.CleanDir, cfg.JSONLDir, cfg.ParquetDir} {
			entries, _ := os.ReadDir(dir)
			for _, e := range entries {
				b, _ := os.ReadFile(filepath.Join(dir, e.Name()))
				out[filepath.Join(filepath.Base(dir), e.Name())] = b
			}
		}
		return out
	}

	if _, err := Run(context.Background(), cfg, discardLogger(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	first := snapshot()
	if _, err := Run(context.Background(), cfg, discardLogger(), nil); err != nil {
		t.Fatalf("Run() second error = %v", err)
	}
	second := snapshot()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("outputs changed between runs (-first +second):\n%s", diff)
	}
}

func TestRunMissingRawDir(t *testing.T) {
	cfg := testConfig(t, VariantCSV)
	cfg.RawDir = filepath.Join(t.TempDir(), "absent")
	if _, err := Run(context.Background(), cfg, discardLogger(), nil); err == nil {
		t.Error("Run() with missing raw dir: expected error")
	}
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		r    models.UnitResult
		want string
	}{
		{models.UnitResult{Stage: models.StageHarvest, Name: "Bills", Status: models.StatusSuccess, Rows: 3}, "✓ harvest Bills (3 rows)\n"},
		{models.UnitResult{Stage: models.StageHarvest, Name: "Empty", Status: models.StatusSkipped}, "- harvest Empty: no rows, skipped\n"},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		PrintResult(&b, tt.r)
		if b.String() != tt.want {
			t.Errorf("PrintResult() = %q, want %q", b.String(), tt.want)
		}
	}
}

func TestHeaderSources(t *testing.T) {
	jsonlDir := t.TempDir()
	cleanDir := t.TempDir()
	for name, dir := range map[string]string{
		"cleaned_a.jsonl": jsonlDir,
		"cleaned_b.jsonl": jsonlDir,
		"cleaned_a.csv":   cleanDir,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := HeaderSources(jsonlDir, cleanDir)
	if err != nil {
		t.Fatalf("HeaderSources() error = %v", err)
	}
	want := map[string]string{"cleaned_a.jsonl": filepath.Join(cleanDir, "cleaned_a.csv")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("HeaderSources() mismatch (-want +got):\n%s", diff)
	}
}
