package ingest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"promoflow/internal/shared/testutil"
	"promoflow/internal/validation"
	"promoflow/pkg/contracts/domain"
)

const promoCSV = "\ufeffCategory,Item,Density,MSRP,PROMO,Discount,Start Date,End Date\n" +
	"Beverages,Cola,Low,4.99,3.99,-1.00,2024-01-01,2024-01-31\n" +
	",,,,,,,\n" +
	"Snacks,Chips,,2.50,2.00,-0.50,01/05/2024,01/20/2024\n"

func TestDecode_CSV(t *testing.T) {
	for _, streamingMB := range []float64{0, 0.000001} {
		logger, logs := testutil.NewTestLogger(t)
		d := NewDecoder(nil, streamingMB, logger)

		ds, info, err := d.Decode(context.Background(), "uploads/promo.csv", strings.NewReader(promoCSV), int64(len(promoCSV)))
		require.NoError(t, err)

		assert.Equal(t, "promo.csv", info.Name)
		assert.Greater(t, info.SizeMB, 0.0)
		assert.Equal(t, testutil.PromoColumns, ds.Columns)
		require.Equal(t, 2, ds.RowCount())
		assert.Equal(t, "Cola", ds.Get(0, "Item").Text())
		assert.Equal(t, "Chips", ds.Get(1, "Item").Text())
		assert.True(t, ds.Get(1, "Density").IsNull())
		assert.Equal(t, "01/05/2024", ds.Get(1, "Start Date").Text())
		assert.Equal(t, false, decodedStreaming(t, logs), "csv is never reported as streamed")
	}
}

func decodedStreaming(t *testing.T, logs *testutil.CaptureHandler) bool {
	t.Helper()
	for _, r := range logs.Records() {
		if r.Message == "File decoded" {
			v, ok := r.Attrs["streaming"].(bool)
			require.True(t, ok)
			return v
		}
	}
	t.Fatal("no decode record")
	return false
}

func TestDecode_CSVNoHeader(t *testing.T) {
	d := NewDecoder(nil, 0, nil)
	_, _, err := d.Decode(context.Background(), "empty.csv", strings.NewReader(""), 1)
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestDecode_RejectsXLS(t *testing.T) {
	d := NewDecoder(nil, 0, nil)
	_, _, err := d.Decode(context.Background(), "old.xls", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, validation.ErrLegacyExcel)
}

func xlsxBytes(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecode_XLSX(t *testing.T) {
	data := xlsxBytes(t, [][]interface{}{
		{"Category", "Item", "Density", "MSRP", "PROMO", "Discount", "Start Date", "End Date"},
		{"Beverages", "Cola", "Low", 4.99, 3.99, -1, "2024-01-01", "2024-01-31"},
		{"Snacks", "Chips", "High", 2.5, 2, 0, "2024-02-01", "2024-02-10"},
	})

	for _, streamingMB := range []float64{0, 0.000001} {
		logger, logs := testutil.NewTestLogger(t)
		d := NewDecoder(nil, streamingMB, logger)
		ds, info, err := d.Decode(context.Background(), "promo.xlsx", bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, streamingMB > 0, decodedStreaming(t, logs))

		assert.Equal(t, "promo.xlsx", info.Name)
		assert.Equal(t, testutil.PromoColumns, ds.Columns)
		require.Equal(t, 2, ds.RowCount())
		assert.Equal(t, "4.99", ds.Get(0, "MSRP").Text())
		assert.Equal(t, domain.KindString, ds.Get(1, "Item").Kind)
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.csv")
	require.NoError(t, os.WriteFile(path, []byte(promoCSV), 0o644))

	ds, info, err := NewDecoder(nil, 0, nil).DecodeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "promo.csv", info.Name)
	assert.Equal(t, 2, ds.RowCount())
}

func TestFromRecords(t *testing.T) {
	ds, err := FromRecords(
		[]string{"Item", "", "Start Date"},
		[][]string{
			{"Cola", "x", "2024-01-01"},
			{"", " ", ""},
			{"Chips", "", "2024-02-01"},
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Item", "Unnamed: 1", "Start Date"}, ds.Columns)
	assert.Equal(t, 2, ds.RowCount())
	assert.True(t, ds.Get(1, "Unnamed: 1").IsNull())

	_, err = FromRecords(nil, nil)
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = FromRecords([]string{"a", "b"}, [][]string{{"1"}})
	assert.Error(t, err)
}
