package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gil-rei/Senzen/internal/service"

	"go.uber.org/zap"
)

// ReciteHandler 每日账目（caretaker）
type ReciteHandler struct {
	ledger service.LedgerService
	logger *zap.Logger
}

func NewReciteHandler(ledger service.LedgerService, logger *zap.Logger) *ReciteHandler {
	return &ReciteHandler{ledger: ledger, logger: logger}
}

// 数量和单价原样交给服务层解析，既接受字符串也接受数字
type createReciteBody struct {
	Date       flexString `json:"date"`
	ItemName   flexString `json:"itemName"`
	ItemAmount flexString `json:"itemAmount"`
	ItemPrice  flexString `json:"itemPrice"`
}

type updateReciteBody struct {
	ItemName   *flexString `json:"itemName"`
	ItemAmount *flexString `json:"itemAmount"`
	ItemPrice  *flexString `json:"itemPrice"`
	ItemNumber *flexString `json:"itemNumber"`
	Date       *flexString `json:"date"`
}

// List GET /care/api/v1/recites?date=YYYY-MM-DD
func (h *ReciteHandler) List(w http.ResponseWriter, r *http.Request) {
	day, err := h.ledger.ListForDate(r.Context(), sessionFrom(r.Context()), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(day))
}

// Create POST /care/api/v1/recites（date 缺省时取查询参数）
func (h *ReciteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createReciteBody
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	date := string(body.Date)
	if date == "" {
		date = r.URL.Query().Get("date")
	}
	rc, err := h.ledger.Create(r.Context(), sessionFrom(r.Context()), service.CreateReciteRequest{
		Date:       date,
		ItemName:   string(body.ItemName),
		ItemAmount: string(body.ItemAmount),
		ItemPrice:  string(body.ItemPrice),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rc))
}

// Update PUT /care/api/v1/recites/{id}（itemNumber / date 不可修改）
func (h *ReciteHandler) Update(w http.ResponseWriter, r *http.Request) {
	var body updateReciteBody
	if err := readBodyJSON(r, maxJSONBody, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	req := service.UpdateReciteRequest{
		ItemName:   body.ItemName.ptr(),
		ItemAmount: body.ItemAmount.ptr(),
		ItemPrice:  body.ItemPrice.ptr(),
		Date:       body.Date.ptr(),
	}
	if body.ItemNumber != nil {
		n, _ := strconv.Atoi(string(*body.ItemNumber))
		req.ItemNumber = &n
	}
	rc, err := h.ledger.Update(r.Context(), sessionFrom(r.Context()), r.PathValue("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rc))
}

// Delete DELETE /care/api/v1/recites/{id}
func (h *ReciteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Delete(r.Context(), sessionFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Export GET /care/api/v1/recites/export?date=YYYY-MM-DD
func (h *ReciteHandler) Export(w http.ResponseWriter, r *http.Request) {
	day, err := h.ledger.ListForDate(r.Context(), sessionFrom(r.Context()), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := GenerateLedgerExport(day)
	if err != nil {
		h.logger.Error("Failed to generate ledger export",
			zap.String("patient_id", day.PatientID),
			zap.String("date", day.Date),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="recites-%s.xlsx"`, day.Date))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
