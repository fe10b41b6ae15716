package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ceyewan/fieldops/auth"
	"github.com/ceyewan/fieldops/clog"
	"github.com/ceyewan/fieldops/db"
	"github.com/ceyewan/fieldops/idempotency"
	"github.com/ceyewan/fieldops/xerrors"
)

// Invoice 发票，演示一次有副作用的写操作
type Invoice struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string    `gorm:"column:tenant_id;size:64;index" json:"tenant_id,omitempty"`
	CustomerID  string    `gorm:"column:customer_id;size:64;not null" json:"customer_id"`
	AmountCents int64     `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency    string    `gorm:"column:currency;size:3;not null" json:"currency"`
	CreatedBy   string    `gorm:"column:created_by;size:128" json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName 固定表名
func (Invoice) TableName() string {
	return "invoices"
}

type createInvoiceRequest struct {
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

func (r *createInvoiceRequest) validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "customer_id is required")
	}
	if r.AmountCents <= 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "amount_cents must be positive")
	}
	if len(r.Currency) != 3 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "currency must be a 3-letter code")
	}
	return nil
}

// caller 发起写操作的主体，匿名时两个字段都为空
type caller struct {
	TenantID string
	Subject  string
}

func callerFromClaims(claims *auth.Claims) caller {
	if claims == nil {
		return caller{}
	}
	return caller{TenantID: claims.TenantID, Subject: claims.Subject}
}

// invoiceService HTTP 与 gRPC 共用的发票写入逻辑
type invoiceService struct {
	database db.DB
	logger   clog.Logger
}

func (s *invoiceService) Create(ctx context.Context, who caller, req createInvoiceRequest) (*Invoice, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	inv := &Invoice{
		ID:          uuid.NewString(),
		TenantID:    who.TenantID,
		CustomerID:  req.CustomerID,
		AmountCents: req.AmountCents,
		Currency:    strings.ToUpper(req.Currency),
		CreatedBy:   who.Subject,
	}
	err := s.database.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Create(inv).Error
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "create invoice")
	}
	s.logger.InfoContext(ctx, "invoice created",
		clog.String("invoice_id", inv.ID),
		clog.String("customer_id", inv.CustomerID),
		clog.Int64("amount_cents", inv.AmountCents))
	return inv, nil
}

// createInvoice POST /v1/invoices
func (a *App) createInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, idempotency.CodeInvalidBody, "request body must be a JSON object")
		return
	}

	claims, _ := auth.GetClaims(c)
	inv, err := a.invoices.Create(c.Request.Context(), callerFromClaims(claims), req)
	switch {
	case xerrors.Is(err, xerrors.ErrInvalidInput):
		abortJSON(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	case err != nil:
		a.logger.ErrorContext(c.Request.Context(), "create invoice failed", clog.Error(err))
		abortJSON(c, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
