package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/hyperlocal-delivery/internal/auth"
	"github.com/MikeMC777/hyperlocal-delivery/internal/httpx"
	ord "github.com/MikeMC777/hyperlocal-delivery/internal/order"
)

func actorOf(id auth.Identity) ord.Actor {
	return ord.Actor{UserID: id.UserID, Staff: id.Staff()}
}

// createOrderHandler godoc
// @Summary      Place an order
// @Description  Places a single-merchant order. Totals and delivery fee are computed by the server.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                  false  "Idempotency key"
// @Param        payload          body      order.CreateOrderRequest true  "Order"
// @Success      201              {object}  order.Order
// @Success      200              {object}  order.Order  "Replay of an earlier submission"
// @Failure      400              {object}  product.HTTPError
// @Failure      401              {object}  product.HTTPError
// @Failure      409              {object}  product.HTTPError
// @Failure      503              {object}  product.HTTPError
// @Router       /api/orders [post]
func createOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := httpx.IdentityFrom(c)

		var req ord.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if k := c.GetHeader("Idempotency-Key"); k != "" {
			req.IdempotencyKey = k
		}

		o, replayed, err := svc.Place(c.Request.Context(), id.UserID, req)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		if replayed {
			c.JSON(http.StatusOK, o)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// listMyOrdersHandler godoc
// @Summary  List my orders, newest first
// @Tags     orders
// @Produce  json
// @Security BearerAuth
// @Param    limit   query     int  false  "Page size (default 20)"
// @Param    offset  query     int  false  "Offset"
// @Success  200     {object}  order.ListResponse
// @Failure  401     {object}  product.HTTPError
// @Router   /api/orders [get]
func listMyOrdersHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := httpx.IdentityFrom(c)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		if offset < 0 {
			offset = 0
		}

		items, err := svc.ListForUser(c.Request.Context(), id.UserID, limit, offset)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.ListResponse{Limit: limit, Offset: offset, Items: items})
	}
}

// getOrderHandler godoc
// @Summary  Get an order
// @Tags     orders
// @Produce  json
// @Security BearerAuth
// @Param    id   path      string  true  "Order ID"
// @Success  200  {object}  order.Order
// @Failure  403  {object}  product.HTTPError
// @Failure  404  {object}  product.HTTPError
// @Router   /api/orders/{id} [get]
func getOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := httpx.IdentityFrom(c)
		o, err := svc.Get(c.Request.Context(), actorOf(id), c.Param("id"))
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// updateOrderStatusHandler godoc
// @Summary      Change order status
// @Description  Merchants and admins advance orders; customers may only cancel their own.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                    true  "Order ID"
// @Param        payload  body      order.UpdateStatusRequest true  "New status"
// @Success      200      {object}  order.Order
// @Failure      400      {object}  product.HTTPError
// @Failure      403      {object}  product.HTTPError
// @Failure      404      {object}  product.HTTPError
// @Failure      409      {object}  product.HTTPError
// @Router       /api/orders/{id}/status [put]
func updateOrderStatusHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := httpx.IdentityFrom(c)
		var body ord.UpdateStatusRequest
		if err := c.ShouldBindJSON(&body); err != nil || body.Status == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), actorOf(id), c.Param("id"), body.Status)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}
