package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promoflow/internal/rules"
	"promoflow/pkg/contracts"
)

const header = "Category,Item,Density,MSRP,PROMO,Discount,Start Date,End Date\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  error
		contains []string
	}{
		{
			name: "all valid",
			content: header +
				"Beverages,Cola,Low,4.99,3.99,-1.00,2024-01-01,2024-01-31\n",
			contains: []string{"Valid:    1", "Invalid:  0", "Quality:  100.0%"},
		},
		{
			name: "invalid dates",
			content: header +
				"Beverages,Cola,Low,4.99,3.99,-1.00,2024-01-01,2024-01-31\n" +
				"Beverages,Tea,Low,2.99,1.99,-1.00,2024-02-01,2024-01-01\n",
			wantErr:  errInvalidRows,
			contains: []string{"Invalid:  1", "row 2: " + rules.MsgDateOrder},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "validate", writeFile(t, "promo.csv", tt.content))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestValidateCommand_SchemaMismatch(t *testing.T) {
	path := writeFile(t, "promo.csv", "Category,Item\nBeverages,Cola\n")

	_, err := execute(t, "validate", path)
	var schemaErr *rules.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Missing, "MSRP")

	_, err = execute(t, "validate", "--schema", "unknown", path)
	assert.Error(t, err)
}

func TestValidateCommand_JSON(t *testing.T) {
	path := writeFile(t, "promo.csv", header+
		"Beverages,Tea,Low,2.99,1.99,-1.00,2024-02-01,2024-01-01\n"+
		"Beverages,Tea,Low,2.99,1.99,-1.00,2024-02-01,2024-01-01\n")

	out, err := execute(t, "validate", "--json", "--max-rows", "1", path)
	assert.ErrorIs(t, err, errInvalidRows)

	var report validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Stats.Invalid)
	assert.Len(t, report.Invalid, 1)
	assert.Equal(t, rules.SchemaPromoRetail, report.Schema)
}

func TestValidateCommand_ExportInvalid(t *testing.T) {
	path := writeFile(t, "promo.csv", header+
		"Beverages,Cola,Low,4.99,3.99,-1.00,2024-01-01,2024-01-31\n"+
		"Beverages,Tea,Low,2.99,1.99,-1.00,2024-02-01,2024-01-01\n")
	out := filepath.Join(t.TempDir(), "invalid.csv")

	_, err := execute(t, "validate", "--export-invalid", out, path)
	assert.ErrorIs(t, err, errInvalidRows)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Tea")
	assert.NotContains(t, string(data), "Cola")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "promoflow v"+contracts.Version)
}
