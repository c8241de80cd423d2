package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"promoflow/internal/projection"
	"promoflow/internal/rules"
	"promoflow/internal/shared/testutil"
	"promoflow/pkg/contracts/domain"
)

func invalidView(t *testing.T) *projection.View {
	t.Helper()
	schema, err := rules.SchemaByName(rules.SchemaPromoRetail)
	require.NoError(t, err)

	raw := testutil.PromoDataset(
		testutil.ValidPromoRow("Cola"),
		testutil.PromoRow("Beverages", "Tea", "Low", "2.99", "1.99", "-1.00", "2024-02-01", "2024-01-01"),
	)
	res, err := rules.NewEngine(schema, nil).Validate(context.Background(), raw)
	require.NoError(t, err)
	return projection.Project(projection.Source{Validated: res.Dataset}, projection.FilterInvalid, projection.LimitAll)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{" xlsx ", FormatXLSX, false},
		{"xls", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "promos_invalid.csv", FileName("promos.csv", projection.FilterInvalid, FormatCSV))
	assert.Equal(t, "promos_valid.xlsx", FileName("dir/promos.xlsx", projection.FilterValid, FormatXLSX))
	assert.Equal(t, "export.csv", FileName("", projection.FilterAll, FormatCSV))
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(nil).Write(context.Background(), &buf, FormatCSV, invalidView(t)))

	require.True(t, bytes.HasPrefix(buf.Bytes(), utf8BOM))
	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, domain.ColumnStatus, records[0][0])
	assert.Equal(t, domain.ColumnValidationErrors, records[0][len(records[0])-1])
	assert.Equal(t, projection.MarkInvalid, records[1][0])
	assert.Contains(t, records[1], "Tea")
	assert.Equal(t, rules.MsgDateOrder, records[1][len(records[1])-1])
}

func TestWrite_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(nil).Write(context.Background(), &buf, FormatXLSX, invalidView(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.ColumnStatus, rows[0][0])
	assert.Contains(t, rows[1], "Tea")
}

func TestWrite_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := NewWriter(nil).Write(ctx, &buf, FormatCSV, invalidView(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil)

	path := filepath.Join(dir, "out", "invalid.csv")
	require.NoError(t, w.WriteFile(context.Background(), path, invalidView(t)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Tea")

	err = w.WriteFile(context.Background(), filepath.Join(dir, "invalid.txt"), invalidView(t))
	assert.Error(t, err)
}
