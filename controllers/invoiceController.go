package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/gin-gonic/gin"
)

type holdRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Version *int   `json:"version"`
}

type versionedRequest struct {
	Version *int `json:"version"`
}

type approveRequest struct {
	Approver string `json:"approver"`
	Version  *int   `json:"version"`
}

type updateStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Version *int   `json:"version"`
}

type deliveryRequest struct {
	models.NewDelivery
	Version *int `json:"version"`
}

func invoiceIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return 0, false
	}
	return id, true
}

// expectedVersion translates an optional request version into the model
// convention: a negative value skips the optimistic check.
func expectedVersion(version *int) int {
	if version == nil {
		return -1
	}
	return *version
}

func CreateInvoice(c *gin.Context) {
	var input models.NewInvoice
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	invoice, err := models.CreateInvoice(c.Request.Context(), &input)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

func GetInvoice(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	businessId, _ := utils.GetBusinessIdFromContext(c.Request.Context())
	invoice, err := models.FetchInvoice(c.Request.Context(), businessId, id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func RecordDelivery(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	var input deliveryRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	invoice, err := models.RecordDelivery(c.Request.Context(), id, &input.NewDelivery, expectedVersion(input.Version))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func ApproveInvoice(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	var input approveRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	invoice, err := models.ApproveInvoice(c.Request.Context(), id, input.Approver, expectedVersion(input.Version))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func HoldInvoice(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	var input holdRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	invoice, err := models.HoldInvoice(c.Request.Context(), id, input.Reason, expectedVersion(input.Version))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func ReleaseHold(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	var input versionedRequest
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(c, err)
		return
	}
	invoice, err := models.ReleaseHold(c.Request.Context(), id, expectedVersion(input.Version))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func CancelInvoice(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	var input versionedRequest
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(c, err)
		return
	}
	invoice, err := models.CancelInvoice(c.Request.Context(), id, expectedVersion(input.Version))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func UpdateInvoiceStatus(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	var input updateStatusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	target, err := models.ParseInvoiceStatus(input.Status)
	if err != nil {
		respondWithError(c, models.NewValidationError("invalid status %q", input.Status))
		return
	}
	invoice, err := models.UpdateInvoiceStatus(c.Request.Context(), id, target, expectedVersion(input.Version))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func DeleteInvoice(c *gin.Context) {
	id, ok := invoiceIdParam(c)
	if !ok {
		return
	}
	if err := models.DeleteInvoice(c.Request.Context(), id); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
