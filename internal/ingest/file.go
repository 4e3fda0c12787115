package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// DecodeFile picks a decoder from the file extension: .json, .csv or .xlsx.
func DecodeFile(ctx context.Context, path string, xopts XLSXOptions) ([]model.RawRecord, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		return DecodeXLSX(path, xopts)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch ext {
	case ".json":
		return DecodeJSON(f)
	case ".csv":
		return DecodeCSV(ctx, f, CSVOptions{})
	case ".tsv":
		return DecodeCSV(ctx, f, CSVOptions{Delimiter: '\t'})
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q (want .json, .csv, .tsv or .xlsx)", ext)
	}
}
