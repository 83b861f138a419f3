package httpapi

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/Gil-rei/Senzen/internal/domain"
	"github.com/Gil-rei/Senzen/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const ledgerDate = "2024-05-01"

func createRecite(t *testing.T, env *testEnv, name string, amount, price any) domain.Recite {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/care/api/v1/recites?date="+ledgerDate, caretakerToken, map[string]any{
		"itemName":   name,
		"itemAmount": amount,
		"itemPrice":  price,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rc domain.Recite
	decodeResult(t, rec, &rc)
	return rc
}

func TestRecites_NumberingAndTotal(t *testing.T) {
	env := newTestEnv(t)
	first := createRecite(t, env, "Bread", 2, "1.25")
	second := createRecite(t, env, "Milk", "1", 3.5)
	assert.Equal(t, 1, first.ItemNumber)
	assert.Equal(t, 2, second.ItemNumber)

	rec := env.do(t, http.MethodDelete, "/care/api/v1/recites/"+second.ReciteID, caretakerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	third := createRecite(t, env, "Eggs", 12, "0.50")
	assert.Equal(t, 3, third.ItemNumber, "deleted numbers are never reused")

	rec = env.do(t, http.MethodGet, "/care/api/v1/recites?date="+ledgerDate, caretakerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var day service.LedgerDay
	decodeResult(t, rec, &day)
	require.Len(t, day.Recites, 2)
	assert.Equal(t, 1, day.Recites[0].ItemNumber)
	assert.Equal(t, 3, day.Recites[1].ItemNumber)
	assert.True(t, decimal.RequireFromString("8.5").Equal(day.Total), day.Total.String())
}

func TestRecites_UpdateRejectsImmutableFields(t *testing.T) {
	env := newTestEnv(t)
	rc := createRecite(t, env, "Bread", 1, "2")

	rec := env.do(t, http.MethodPut, "/care/api/v1/recites/"+rc.ReciteID, caretakerToken, map[string]any{"itemNumber": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPut, "/care/api/v1/recites/"+rc.ReciteID, caretakerToken, map[string]any{"date": "2024-05-02"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/care/api/v1/recites/"+rc.ReciteID, caretakerToken, map[string]any{"itemAmount": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Recite
	decodeResult(t, rec, &updated)
	assert.Equal(t, 3, updated.ItemAmount)
	assert.Equal(t, "Bread", updated.ItemName)
	assert.Equal(t, 1, updated.ItemNumber)
}

func TestRecites_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []map[string]any{
		{"itemName": "", "itemAmount": 1, "itemPrice": "1"},
		{"itemName": "x", "itemAmount": -1, "itemPrice": "1"},
		{"itemName": "x", "itemAmount": 1, "itemPrice": "abc"},
	} {
		rec := env.do(t, http.MethodPost, "/care/api/v1/recites?date="+ledgerDate, caretakerToken, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := env.do(t, http.MethodGet, "/care/api/v1/recites?date=05/01/2024", caretakerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/care/api/v1/recites?date="+ledgerDate, loneToken, map[string]any{
		"itemName": "x", "itemAmount": 1, "itemPrice": "1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecites_Export(t *testing.T) {
	env := newTestEnv(t)
	createRecite(t, env, "Bread", 2, "1.25")
	createRecite(t, env, "Milk", 1, "3.50")

	rec := env.do(t, http.MethodGet, "/care/api/v1/recites/export?date="+ledgerDate, caretakerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "recites-2024-05-01.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(ledgerDate)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, LedgerExportHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "Bread", rows[1][1])
	assert.Equal(t, "2", rows[1][2])
	assert.Equal(t, "Total", rows[3][0])

	total, err := f.GetCellValue(ledgerDate, "E4", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "6", total)
}
