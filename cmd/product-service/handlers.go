package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MikeMC777/hyperlocal-delivery/internal/httpx"
	"github.com/MikeMC777/hyperlocal-delivery/internal/pricing"
	prod "github.com/MikeMC777/hyperlocal-delivery/internal/product"
)

// getProductHandler godoc
// @Summary  Get a product
// @Tags     products
// @Produce  json
// @Param    id   path      string  true  "Product ID"
// @Success  200  {object}  product.Product
// @Failure  404  {object}  product.HTTPError
// @Router   /products/{id} [get]
func getProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := repo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// createProductHandler godoc
// @Summary  Create a product
// @Tags     products
// @Accept   json
// @Produce  json
// @Param    payload  body      product.CreateProductRequest  true  "Product"
// @Success  201      {object}  product.Product
// @Failure  400      {object}  product.HTTPError
// @Router   /products [post]
func createProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req prod.CreateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		switch {
		case strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.MerchantID) == "":
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and merchantId are required"})
			return
		case req.Price == nil || req.Price.IsNegative():
			c.JSON(http.StatusBadRequest, gin.H{"error": "price is required and must be non-negative"})
			return
		case !pricing.WholeCents(*req.Price):
			c.JSON(http.StatusBadRequest, gin.H{"error": "price cannot have more than 2 decimal places"})
			return
		case req.Stock < 0:
			c.JSON(http.StatusBadRequest, gin.H{"error": "stock must be non-negative"})
			return
		}

		p := &prod.Product{
			ID:          uuid.NewString(),
			MerchantID:  req.MerchantID,
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
			Price:       *req.Price,
			Unit:        req.Unit,
			IsAvailable: true,
			Stock:       req.Stock,
		}
		if p.Unit == "" {
			p.Unit = "piece"
		}
		if req.IsAvailable != nil {
			p.IsAvailable = *req.IsAvailable
		}
		if err := repo.Create(c.Request.Context(), p); err != nil {
			httpx.Fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// updateProductHandler godoc
// @Summary      Partially update a product
// @Description  Only the fields present in the body change.
// @Tags         products
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Product ID"
// @Param        payload  body      product.UpdateProductRequest  true  "Fields to change"
// @Success      200      {object}  product.Product
// @Failure      400      {object}  product.HTTPError
// @Failure      404      {object}  product.HTTPError
// @Router       /products/{id} [put]
func updateProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req prod.UpdateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		switch {
		case req.Name != nil && strings.TrimSpace(*req.Name) == "":
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		case req.Price != nil && req.Price.IsNegative():
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be non-negative"})
			return
		case req.Price != nil && !pricing.WholeCents(*req.Price):
			c.JSON(http.StatusBadRequest, gin.H{"error": "price cannot have more than 2 decimal places"})
			return
		case req.Stock != nil && *req.Stock < 0:
			c.JSON(http.StatusBadRequest, gin.H{"error": "stock must be non-negative"})
			return
		}

		p, err := repo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		req.Apply(p)
		p.Price = p.Price.Round(2)
		if err := repo.Update(c.Request.Context(), p); err != nil {
			httpx.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
