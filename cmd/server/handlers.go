package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/techturf/marketplace/internal/httpx"
	ord "github.com/techturf/marketplace/internal/order"
	"github.com/techturf/marketplace/internal/product"
	"github.com/techturf/marketplace/internal/promo"
	"github.com/techturf/marketplace/internal/user"
)

func limitOffset(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// orderError maps the service error taxonomy onto HTTP codes. Business-rule
// rejections carry the full diagnostic, commit failures stay opaque.
func orderError(c *gin.Context, err error) {
	var stockErr *ord.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{"error": stockErr.Error(), "shortages": stockErr.Shortages})
	case errors.Is(err, ord.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, ord.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	case errors.Is(err, ord.ErrAlreadyCancelled):
		c.JSON(http.StatusConflict, gin.H{"error": "order already cancelled"})
	case errors.Is(err, ord.ErrReturnAlreadyRequested):
		c.JSON(http.StatusBadRequest, gin.H{"error": "return already requested"})
	case errors.Is(err, ord.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ord.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, promo.ErrInvalidPromo),
		errors.Is(err, promo.ErrNotYetActive),
		errors.Is(err, promo.ErrExpired),
		errors.Is(err, promo.ErrMinimumNotMet):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ord.ErrRestorationFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stock restoration failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order commit failed"})
	}
}

//
// ---------- AUTH ----------
//

func registerHandler(svc *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := svc.Register(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, user.ErrAlreadyExist) {
				c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func loginHandler(svc *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := svc.Authenticate(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, user.ErrBadCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "auth error"})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func meHandler(svc *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := svc.Get(c.Request.Context(), c.GetString("userID"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

func updateMeHandler(svc *user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.UpdateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := svc.UpdateProfile(c.Request.Context(), c.GetString("userID"), req)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update error"})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

//
// ---------- PRODUCTS ----------
//

func listProductsHandler(repo product.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := limitOffset(c)
		q := product.Query{
			Q:        c.Query("q"),
			Category: c.Query("category"),
			Limit:    limit,
			Offset:   offset,
		}
		items, err := repo.List(c.Request.Context(), q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
			return
		}
		if items == nil {
			items = []product.Product{}
		}
		c.JSON(http.StatusOK, product.ListResponse{Q: q.Q, Limit: limit, Offset: offset, Items: items})
	}
}

func getProductHandler(repo product.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := repo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func createProductHandler(repo product.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req product.CreateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Name == "" || req.Price == "" || req.Stock < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name, price and non-negative stock are required"})
			return
		}
		p := &product.Product{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Stock:       req.Stock,
			Category:    req.Category,
			Tags:        req.Tags,
			ImageURL:    req.ImageURL,
		}
		if err := repo.Create(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create error"})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func updateProductHandler(repo product.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req product.UpdateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p := &product.Product{
			ID:          c.Param("id"),
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Category:    req.Category,
			Tags:        req.Tags,
			ImageURL:    req.ImageURL,
		}
		updateStock := false
		if req.Stock != nil {
			if *req.Stock < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "stock must be non-negative"})
				return
			}
			p.Stock = *req.Stock
			updateStock = true
		}
		if err := repo.Update(c.Request.Context(), p, req.Price != "", updateStock); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update error"})
			return
		}
		out, err := repo.GetByID(c.Request.Context(), p.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func deleteProductHandler(repo product.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := repo.Delete(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete error"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

//
// ---------- PROMOS (admin lifecycle) ----------
//

func createPromoHandler(repo promo.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req promo.CreatePromoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Code == "" || req.Value == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and value are required"})
			return
		}
		if req.Type == "" {
			req.Type = promo.TypePercent
		}
		if req.Type != promo.TypePercent && req.Type != promo.TypeFlat {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be percent or flat"})
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		p := &promo.Promo{
			ID:            uuid.NewString(),
			Code:          req.Code,
			Type:          req.Type,
			Value:         req.Value,
			MinOrderValue: orZero(req.MinOrderValue),
			MaxDiscount:   orZero(req.MaxDiscount),
			Active:        active,
			StartsAt:      req.StartsAt,
			EndsAt:        req.EndsAt,
		}
		if err := repo.Create(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "promo code already exists"})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func listPromosHandler(repo promo.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := limitOffset(c)
		items, err := repo.List(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
			return
		}
		if items == nil {
			items = []promo.Promo{}
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// updatePromoHandler is a partial update: omitted fields keep their values.
func updatePromoHandler(repo promo.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req promo.CreatePromoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Type != "" && req.Type != promo.TypePercent && req.Type != promo.TypeFlat {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be percent or flat"})
			return
		}
		p := &promo.Promo{
			ID:            c.Param("id"),
			Type:          req.Type,
			Value:         req.Value,
			MinOrderValue: req.MinOrderValue,
			MaxDiscount:   req.MaxDiscount,
			StartsAt:      req.StartsAt,
			EndsAt:        req.EndsAt,
		}
		if req.Active != nil {
			p.Active = *req.Active
		}
		if err := repo.Update(c.Request.Context(), p, req.Active != nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update error"})
			return
		}
		out, err := repo.GetByID(c.Request.Context(), p.ID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func deletePromoHandler(repo promo.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := repo.Delete(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete error"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

//
// ---------- ORDERS ----------
//

func placeOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok := false
		defer func() { httpx.RecordOrderOperation("place", ok) }()

		var req ord.PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o, err := svc.PlaceOrder(c.Request.Context(), c.GetString("userID"), req)
		if err != nil {
			orderError(c, err)
			return
		}
		ok = true
		c.JSON(http.StatusCreated, o)
	}
}

func getOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.GetForUser(c.Request.Context(), c.Param("id"), c.GetString("userID"), c.GetBool("isAdmin"))
		if err != nil {
			orderError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func listMyOrdersHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := limitOffset(c)
		orders, err := svc.ListByUser(c.Request.Context(), c.GetString("userID"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
			return
		}
		if orders == nil {
			orders = []ord.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"items": orders})
	}
}

func listOrdersHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := limitOffset(c)
		orders, err := svc.List(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
			return
		}
		if orders == nil {
			orders = []ord.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"items": orders})
	}
}

func updateOrderStatusHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok := false
		defer func() { httpx.RecordOrderOperation("update_status", ok) }()

		var req ord.UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			orderError(c, err)
			return
		}
		ok = true
		c.JSON(http.StatusOK, o)
	}
}

func cancelOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok := false
		defer func() { httpx.RecordOrderOperation("cancel", ok) }()

		o, err := svc.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			orderError(c, err)
			return
		}
		ok = true
		c.JSON(http.StatusOK, o)
	}
}

func payOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.PayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o, err := svc.MarkPaid(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			orderError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func requestReturnHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.ReturnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		o, err := svc.RequestReturn(c.Request.Context(), c.Param("id"), c.GetString("userID"), req.Reason)
		if err != nil {
			orderError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}
