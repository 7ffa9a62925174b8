package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/brokersoft/backoffice/internal/billing"
	"github.com/brokersoft/backoffice/internal/brokerage"
	"github.com/brokersoft/backoffice/internal/ledger"
	"github.com/brokersoft/backoffice/internal/master"
	"github.com/brokersoft/backoffice/internal/models"
	"github.com/brokersoft/backoffice/internal/position"
	"github.com/brokersoft/backoffice/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Router wires all handlers.
func Router(masterSvc *master.Service, billingSvc *billing.Service, poster *ledger.Poster, positions *position.Ledger, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logMiddleware(logger))

	registerMasterRoutes(r, masterSvc)

	r.POST("/bills", func(c *gin.Context) {
		handleGenerateBills(c, billingSvc)
	})
	r.GET("/bills/:number", func(c *gin.Context) {
		handleGetBill(c, billingSvc)
	})
	r.POST("/payments", func(c *gin.Context) {
		handleRecordPayment(c, billingSvc)
	})
	r.POST("/ledger/entries", func(c *gin.Context) {
		handlePostEntry(c, poster)
	})
	r.GET("/ledger/:account", func(c *gin.Context) {
		handleStatement(c, poster)
	})
	r.GET("/ledger-summary", func(c *gin.Context) {
		handleSummary(c, poster)
	})
	r.POST("/positions/trades", func(c *gin.Context) {
		handleApplyTrade(c, positions)
	})
	r.GET("/positions/:partyId", func(c *gin.Context) {
		handlePositions(c, positions)
	})
	return r
}

type tradeRowRequest struct {
	Instrument   string     `json:"instrument" binding:"required"`
	TradeType    string     `json:"tradeType" binding:"required"`
	ContractType string     `json:"contractType" binding:"required"`
	Quantity     int64      `json:"quantity" binding:"required"`
	Rate         string     `json:"rate" binding:"required"`
	TradeDate    *time.Time `json:"tradeDate"`
}

type generateBillsRequest struct {
	PartyCode        string            `json:"partyCode" binding:"required"`
	BrokerCode       string            `json:"brokerCode" binding:"required"`
	SettlementNumber string            `json:"settlementNumber" binding:"required"`
	BillDate         *time.Time        `json:"billDate"`
	BatchRef         string            `json:"batchRef"`
	Rows             []tradeRowRequest `json:"rows" binding:"required"`
}

func handleGenerateBills(c *gin.Context, svc *billing.Service) {
	var req generateBillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows := make([]billing.TradeRow, 0, len(req.Rows))
	for _, r := range req.Rows {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be a decimal string"})
			return
		}
		rows = append(rows, billing.TradeRow{
			InstrumentCode: r.Instrument,
			TradeType:      models.TradeType(r.TradeType),
			ContractType:   models.ContractType(r.ContractType),
			Quantity:       r.Quantity,
			Rate:           rate,
			TradeDate:      derefTime(r.TradeDate),
		})
	}

	res, err := svc.GenerateBills(c.Request.Context(), billing.GenerateBillsInput{
		PartyCode:        req.PartyCode,
		BrokerCode:       req.BrokerCode,
		SettlementNumber: req.SettlementNumber,
		BillDate:         derefTime(req.BillDate),
		BatchRef:         req.BatchRef,
		Rows:             rows,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	contracts := []gin.H{}
	for _, ct := range res.Contracts {
		contracts = append(contracts, gin.H{
			"id":              ct.ID,
			"instrumentId":    ct.InstrumentID,
			"quantity":        ct.Quantity,
			"rate":            ct.Rate.String(),
			"amount":          ct.Amount.StringFixed(2),
			"brokerageRate":   ct.BrokerageRate.String(),
			"brokerageAmount": ct.BrokerageAmount.StringFixed(2),
		})
	}
	c.JSON(http.StatusCreated, gin.H{
		"contracts":       contracts,
		"partyBill":       billJSON(res.PartyBill),
		"brokerBill":      billJSON(res.BrokerBill),
		"subBrokerProfit": res.Profit.StringFixed(2),
	})
}

func handleGetBill(c *gin.Context, svc *billing.Service) {
	bill, items, err := svc.GetBill(c.Request.Context(), c.Param("number"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	lines := []gin.H{}
	for _, it := range items {
		lines = append(lines, gin.H{
			"contractId": it.ContractID,
			"quantity":   it.Quantity,
			"rate":       it.Rate.String(),
			"amount":     it.Amount.StringFixed(2),
			"brokerage":  it.BrokerageAmount.StringFixed(2),
		})
	}
	resp := billJSON(*bill)
	resp["items"] = lines
	c.JSON(http.StatusOK, resp)
}

type paymentRequest struct {
	PartyCode  string     `json:"partyCode" binding:"required"`
	BillNumber string     `json:"billNumber" binding:"required"`
	Amount     string     `json:"amount" binding:"required"`
	Date       *time.Time `json:"date"`
}

func handleRecordPayment(c *gin.Context, svc *billing.Service) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
		return
	}
	bill, err := svc.RecordPayment(c.Request.Context(), req.PartyCode, req.BillNumber, amount, derefTime(req.Date))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, billJSON(*bill))
}

type postEntryRequest struct {
	Account     string     `json:"account" binding:"required"`
	PartyID     string     `json:"partyId"`
	Date        *time.Time `json:"date"`
	Kind        string     `json:"kind"`
	Particulars string     `json:"particulars"`
	Debit       string     `json:"debit"`
	Credit      string     `json:"credit"`
}

// handlePostEntry records a manual adjustment or correction entry.
func handlePostEntry(c *gin.Context, poster *ledger.Poster) {
	var req postEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	debit, err := parseOptionalDecimal(req.Debit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "debit must be a decimal string"})
		return
	}
	credit, err := parseOptionalDecimal(req.Credit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credit must be a decimal string"})
		return
	}
	kind := models.EntryKind(req.Kind)
	if kind == "" {
		kind = models.EntryAdjustment
	}
	entry, err := poster.Post(c.Request.Context(), ledger.EntryInput{
		AccountCode: req.Account,
		PartyID:     req.PartyID,
		EntryDate:   derefTime(req.Date),
		Kind:        kind,
		Particulars: req.Particulars,
		Debit:       debit,
		Credit:      credit,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"seq":     entry.Seq,
		"account": entry.AccountCode,
		"kind":    entry.Kind,
		"debit":   entry.Debit.StringFixed(2),
		"credit":  entry.Credit.StringFixed(2),
		"balance": entry.Balance.StringFixed(2),
	})
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func handleStatement(c *gin.Context, poster *ledger.Poster) {
	entries, err := poster.Statement(c.Request.Context(), c.Param("account"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	resp := []gin.H{}
	for _, e := range entries {
		resp = append(resp, gin.H{
			"seq":         e.Seq,
			"entryDate":   e.EntryDate,
			"kind":        e.Kind,
			"particulars": e.Particulars,
			"debit":       e.Debit.StringFixed(2),
			"credit":      e.Credit.StringFixed(2),
			"balance":     e.Balance.StringFixed(2),
		})
	}
	c.JSON(http.StatusOK, gin.H{"account": c.Param("account"), "entries": resp})
}

func handleSummary(c *gin.Context, poster *ledger.Poster) {
	rows, err := poster.Summary(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	resp := []gin.H{}
	for _, r := range rows {
		resp = append(resp, gin.H{
			"account":        r.AccountCode,
			"totalDebit":     r.TotalDebit.StringFixed(2),
			"totalCredit":    r.TotalCredit.StringFixed(2),
			"closingBalance": r.ClosingBalance.StringFixed(2),
			"entries":        r.Entries,
		})
	}
	c.JSON(http.StatusOK, gin.H{"summary": resp})
}

type applyTradeRequest struct {
	PartyID      string     `json:"partyId" binding:"required"`
	InstrumentID string     `json:"instrumentId" binding:"required"`
	Quantity     int64      `json:"quantity" binding:"required"`
	Rate         string     `json:"rate" binding:"required"`
	TradeDate    *time.Time `json:"tradeDate"`
}

func handleApplyTrade(c *gin.Context, positions *position.Ledger) {
	var req applyTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be a decimal string"})
		return
	}
	pos, err := positions.ApplyTrade(c.Request.Context(), position.Trade{
		PartyID:      req.PartyID,
		InstrumentID: req.InstrumentID,
		Quantity:     req.Quantity,
		Rate:         rate,
		TradeDate:    derefTime(req.TradeDate),
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, positionJSON(*pos))
}

func handlePositions(c *gin.Context, positions *position.Ledger) {
	refPrices := map[string]decimal.Decimal{}
	for instrumentID, raw := range c.Request.URL.Query() {
		if len(raw) == 0 {
			continue
		}
		if price, err := decimal.NewFromString(raw[0]); err == nil {
			refPrices[instrumentID] = price
		}
	}
	open, closed, err := positions.Report(c.Request.Context(), c.Param("partyId"), refPrices)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	openRows := []gin.H{}
	for _, row := range open {
		openRows = append(openRows, reportRowJSON(row))
	}
	closedRows := []gin.H{}
	for _, row := range closed {
		closedRows = append(closedRows, reportRowJSON(row))
	}
	c.JSON(http.StatusOK, gin.H{"openPositions": openRows, "closedPositions": closedRows})
}

func billJSON(b models.Bill) gin.H {
	return gin.H{
		"billNumber":  b.Number,
		"billType":    b.Type,
		"billDate":    b.BillDate,
		"totalAmount": b.TotalAmount.StringFixed(2),
		"brokerage":   b.BrokerageAmount.StringFixed(2),
		"paidAmount":  b.PaidAmount.StringFixed(2),
		"status":      b.Status,
	}
}

func positionJSON(p models.Position) gin.H {
	return gin.H{
		"partyId":       p.PartyID,
		"instrumentId":  p.InstrumentID,
		"quantity":      p.Quantity,
		"avgPrice":      p.AvgPrice.String(),
		"realizedPnl":   p.RealizedPnL.StringFixed(2),
		"lastTradeDate": p.LastTradeDate,
	}
}

func reportRowJSON(row models.PositionReportRow) gin.H {
	out := positionJSON(row.Position)
	out["referencePrice"] = row.ReferencePrice.String()
	out["unrealizedPnl"] = row.UnrealizedPnL.StringFixed(2)
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrValidation), errors.Is(err, master.ErrValidation),
		errors.Is(err, position.ErrZeroQuantity), errors.Is(err, position.ErrInvalidRate),
		errors.Is(err, ledger.ErrBothSides), errors.Is(err, ledger.ErrNegativeAmount),
		errors.Is(err, brokerage.ErrInvalidTradeType), errors.Is(err, brokerage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateBatch), errors.Is(err, repository.ErrDuplicateCode):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func logMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"latency":  time.Since(start).String(),
			"clientIP": c.ClientIP(),
		}).Info("request completed")
	}
}
