package http

import (
	"net/http"
	"time"

	"github.com/brokersoft/backoffice/internal/master"
	"github.com/brokersoft/backoffice/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func registerMasterRoutes(r *gin.Engine, svc *master.Service) {
	r.POST("/parties", func(c *gin.Context) { handleCreateParty(c, svc) })
	r.GET("/parties", func(c *gin.Context) { handleListParties(c, svc) })
	r.GET("/parties/:code", func(c *gin.Context) { handleGetParty(c, svc) })
	r.PUT("/parties/:code/slabs", func(c *gin.Context) { handleUpdateSlabs(c, svc, true) })

	r.POST("/brokers", func(c *gin.Context) { handleCreateBroker(c, svc) })
	r.GET("/brokers", func(c *gin.Context) { handleListBrokers(c, svc) })
	r.GET("/brokers/:code", func(c *gin.Context) { handleGetBroker(c, svc) })
	r.PUT("/brokers/:code/slabs", func(c *gin.Context) { handleUpdateSlabs(c, svc, false) })

	r.POST("/instruments", func(c *gin.Context) { handleCreateInstrument(c, svc) })
	r.GET("/instruments", func(c *gin.Context) { handleListInstruments(c, svc) })

	r.POST("/settlements", func(c *gin.Context) { handleCreateSettlement(c, svc) })
	r.GET("/settlements", func(c *gin.Context) { handleListSettlements(c, svc) })
}

type entityRequest struct {
	Code         string `json:"code" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
	TradingSlab  string `json:"tradingSlab"`
	DeliverySlab string `json:"deliverySlab"`
	InterestRate string `json:"interestRate"`
}

func (req entityRequest) slabs() (models.SlabRates, decimal.Decimal, error) {
	slabs := models.SlabRates{}
	interest := decimal.Zero
	var err error
	if req.TradingSlab != "" {
		if slabs.Trading, err = decimal.NewFromString(req.TradingSlab); err != nil {
			return slabs, interest, err
		}
	}
	if req.DeliverySlab != "" {
		if slabs.Delivery, err = decimal.NewFromString(req.DeliverySlab); err != nil {
			return slabs, interest, err
		}
	}
	if req.InterestRate != "" {
		if interest, err = decimal.NewFromString(req.InterestRate); err != nil {
			return slabs, interest, err
		}
	}
	return slabs, interest, nil
}

func handleCreateParty(c *gin.Context, svc *master.Service) {
	var req entityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slabs, interest, err := req.slabs()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slab and interest rates must be decimal strings"})
		return
	}
	p, err := svc.CreateParty(c.Request.Context(), models.Party{
		Code: req.Code, Name: req.Name, Address: req.Address, Phone: req.Phone,
		Slabs: slabs, InterestRate: interest,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

func handleGetParty(c *gin.Context, svc *master.Service) {
	p, err := svc.GetParty(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func handleListParties(c *gin.Context, svc *master.Service) {
	parties, err := svc.ListParties(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"parties": parties})
}

func handleCreateBroker(c *gin.Context, svc *master.Service) {
	var req entityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slabs, interest, err := req.slabs()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slab and interest rates must be decimal strings"})
		return
	}
	b, err := svc.CreateBroker(c.Request.Context(), models.Broker{
		Code: req.Code, Name: req.Name, Address: req.Address, Phone: req.Phone,
		Slabs: slabs, InterestRate: interest,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, b)
}

func handleGetBroker(c *gin.Context, svc *master.Service) {
	b, err := svc.GetBroker(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

func handleListBrokers(c *gin.Context, svc *master.Service) {
	brokers, err := svc.ListBrokers(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"brokers": brokers})
}

type slabUpdateRequest struct {
	TradingSlab  string `json:"tradingSlab" binding:"required"`
	DeliverySlab string `json:"deliverySlab" binding:"required"`
}

// Slab edits apply to future contracts only; rates on posted bills were
// snapshotted at contract creation.
func handleUpdateSlabs(c *gin.Context, svc *master.Service, party bool) {
	var req slabUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trading, err1 := decimal.NewFromString(req.TradingSlab)
	delivery, err2 := decimal.NewFromString(req.DeliverySlab)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slabs must be decimal strings"})
		return
	}
	slabs := models.SlabRates{Trading: trading, Delivery: delivery}
	var err error
	if party {
		err = svc.UpdatePartySlabs(c.Request.Context(), c.Param("code"), slabs)
	} else {
		err = svc.UpdateBrokerSlabs(c.Request.Context(), c.Param("code"), slabs)
	}
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": c.Param("code"), "slabs": slabs})
}

type instrumentRequest struct {
	Code         string     `json:"code" binding:"required"`
	Name         string     `json:"name" binding:"required"`
	ExchangeCode string     `json:"exchangeCode"`
	Type         string     `json:"instrumentType"`
	ExpiryDate   *time.Time `json:"expiryDate"`
	StrikePrice  string     `json:"strikePrice"`
	LotSize      int64      `json:"lotSize"`
}

func handleCreateInstrument(c *gin.Context, svc *master.Service) {
	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	strike := decimal.Zero
	if req.StrikePrice != "" {
		var err error
		if strike, err = decimal.NewFromString(req.StrikePrice); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "strikePrice must be a decimal string"})
			return
		}
	}
	ins, err := svc.CreateInstrument(c.Request.Context(), models.Instrument{
		Code: req.Code, Name: req.Name, ExchangeCode: req.ExchangeCode,
		Type: models.InstrumentType(req.Type), ExpiryDate: req.ExpiryDate,
		StrikePrice: strike, LotSize: req.LotSize,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ins)
}

func handleListInstruments(c *gin.Context, svc *master.Service) {
	instruments, err := svc.ListInstruments(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": instruments})
}

type settlementRequest struct {
	Number    string    `json:"settlementNumber" binding:"required"`
	Type      string    `json:"type" binding:"required"`
	StartDate time.Time `json:"startDate" binding:"required"`
	EndDate   time.Time `json:"endDate" binding:"required"`
}

func handleCreateSettlement(c *gin.Context, svc *master.Service) {
	var req settlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := svc.CreateSettlement(c.Request.Context(), models.Settlement{
		Number: req.Number, Type: models.SettlementType(req.Type),
		StartDate: req.StartDate, EndDate: req.EndDate,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, st)
}

func handleListSettlements(c *gin.Context, svc *master.Service) {
	settlements, err := svc.ListSettlements(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": settlements})
}
