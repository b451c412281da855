package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/orderbridge/internal/order/domain"
)

func (s *Server) CreateOrder(c *gin.Context) {
	var cart orderdomain.Cart
	if err := c.ShouldBindJSON(&cart); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.orders.Run(c.Request.Context(), cart)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}
