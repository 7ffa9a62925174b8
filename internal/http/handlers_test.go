package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brokersoft/backoffice/internal/billing"
	"github.com/brokersoft/backoffice/internal/ledger"
	"github.com/brokersoft/backoffice/internal/master"
	"github.com/brokersoft/backoffice/internal/position"
	"github.com/brokersoft/backoffice/internal/pricing"
	"github.com/brokersoft/backoffice/internal/repository/memory"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	store := memory.New()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	poster := ledger.NewPoster(store, log)
	positions := position.NewLedger(store, pricing.NewRefPriceCache(0), log)
	billingSvc := billing.NewService(store, poster, positions, log)
	masterSvc := master.NewService(store, log)
	return Router(masterSvc, billingSvc, poster, positions, log)
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
	return out
}

func seedMasterData(t *testing.T, r *gin.Engine) {
	t.Helper()
	steps := []struct {
		path string
		body map[string]interface{}
	}{
		{"/parties", map[string]interface{}{"code": "P001", "name": "Acme Traders", "tradingSlab": "0.10", "deliverySlab": "1.30"}},
		{"/brokers", map[string]interface{}{"code": "B001", "name": "Upstream Broking", "tradingSlab": "0.05", "deliverySlab": "1.00"}},
		{"/instruments", map[string]interface{}{"code": "RELIANCE", "name": "Reliance Industries"}},
		{"/settlements", map[string]interface{}{"settlementNumber": "2025-14", "type": "trading", "startDate": "2025-04-01T00:00:00Z", "endDate": "2025-04-04T00:00:00Z"}},
	}
	for _, step := range steps {
		if w := do(t, r, http.MethodPost, step.path, step.body); w.Code != http.StatusCreated {
			t.Fatalf("seed %s: status %d body %s", step.path, w.Code, w.Body.String())
		}
	}
}

func billRequest(batchRef string) map[string]interface{} {
	return map[string]interface{}{
		"partyCode":        "P001",
		"brokerCode":       "B001",
		"settlementNumber": "2025-14",
		"batchRef":         batchRef,
		"rows": []map[string]interface{}{
			{"instrument": "RELIANCE", "tradeType": "T", "contractType": "buy", "quantity": 100, "rate": "50", "tradeDate": "2025-04-01T00:00:00Z"},
		},
	}
}

func TestBillGenerationFlow(t *testing.T) {
	r := newTestRouter()
	seedMasterData(t, r)

	w := do(t, r, http.MethodPost, "/bills", billRequest("upload-1"))
	if w.Code != http.StatusCreated {
		t.Fatalf("generate bills: status %d body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["subBrokerProfit"] != "2.50" {
		t.Errorf("profit = %v, want 2.50", resp["subBrokerProfit"])
	}
	partyBill := resp["partyBill"].(map[string]interface{})
	if partyBill["totalAmount"] != "5000.00" {
		t.Errorf("party bill total = %v", partyBill["totalAmount"])
	}

	// Retry with the same batch reference must conflict.
	if w := do(t, r, http.MethodPost, "/bills", billRequest("upload-1")); w.Code != http.StatusConflict {
		t.Errorf("retry: status %d, want 409", w.Code)
	}

	// Party statement shows the bill debit with the running balance.
	w = do(t, r, http.MethodGet, "/ledger/P001", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("statement: status %d", w.Code)
	}
	entries := decode(t, w)["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0].(map[string]interface{})
	if entry["balance"] != "5005.00" || entry["kind"] != "PARTY_BILL" {
		t.Errorf("entry = %v", entry)
	}

	// Summary reproduces the closing balance.
	w = do(t, r, http.MethodGet, "/ledger-summary", nil)
	rows := decode(t, w)["summary"].([]interface{})
	found := false
	for _, raw := range rows {
		row := raw.(map[string]interface{})
		if row["account"] == "P001" {
			found = true
			if row["closingBalance"] != "5005.00" {
				t.Errorf("closing = %v, want 5005.00", row["closingBalance"])
			}
		}
	}
	if !found {
		t.Error("summary missing P001")
	}
}

func TestBillValidationRejected(t *testing.T) {
	r := newTestRouter()
	seedMasterData(t, r)

	body := billRequest("")
	body["rows"] = []map[string]interface{}{
		{"instrument": "RELIANCE", "tradeType": "X", "contractType": "buy", "quantity": 100, "rate": "50", "tradeDate": "2025-04-01T00:00:00Z"},
	}
	if w := do(t, r, http.MethodPost, "/bills", body); w.Code != http.StatusBadRequest {
		t.Errorf("bad trade type: status %d, want 400", w.Code)
	}
}

func TestPaymentFlow(t *testing.T) {
	r := newTestRouter()
	seedMasterData(t, r)

	w := do(t, r, http.MethodPost, "/bills", billRequest(""))
	if w.Code != http.StatusCreated {
		t.Fatal(w.Body.String())
	}
	billNumber := decode(t, w)["partyBill"].(map[string]interface{})["billNumber"].(string)

	w = do(t, r, http.MethodPost, "/payments", map[string]interface{}{
		"partyCode": "P001", "billNumber": billNumber, "amount": "2000",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("payment: status %d body %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["status"] != "partial" {
		t.Errorf("bill status = %v, want partial", resp["status"])
	}
}

func TestApplyTradeEndpoint(t *testing.T) {
	r := newTestRouter()

	w := do(t, r, http.MethodPost, "/positions/trades", map[string]interface{}{
		"partyId": "party-1", "instrumentId": "ins-nifty", "quantity": 100, "rate": "10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("apply trade: status %d body %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/positions/trades", map[string]interface{}{
		"partyId": "party-1", "instrumentId": "ins-nifty", "quantity": 100, "rate": "20",
	})
	resp := decode(t, w)
	if resp["avgPrice"] != "15" {
		t.Errorf("avg = %v, want 15", resp["avgPrice"])
	}

	w = do(t, r, http.MethodGet, "/positions/party-1?ins-nifty=18", nil)
	if w.Code != http.StatusOK {
		t.Fatal(w.Body.String())
	}
	open := decode(t, w)["openPositions"].([]interface{})
	if len(open) != 1 {
		t.Fatalf("open positions = %d", len(open))
	}
	row := open[0].(map[string]interface{})
	if row["unrealizedPnl"] != "600.00" {
		t.Errorf("unrealized = %v, want 600.00 (200*(18-15))", row["unrealizedPnl"])
	}
}
