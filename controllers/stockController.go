package controllers

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/gin-gonic/gin"
)

func GetStockBalance(c *gin.Context) {
	partId, err := strconv.Atoi(c.Param("partId"))
	if err != nil || partId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid part id"})
		return
	}
	var locationCode *string
	if location := c.Query("location"); location != "" {
		locationCode = &location
	}
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	balance, err := models.GetStockBalance(c.Request.Context(), businessId, partId, locationCode)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func CreateStockReceipt(c *gin.Context) {
	var input models.NewStockReceipt
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	receipt, err := models.CreateStockReceipt(c.Request.Context(), &input)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}
