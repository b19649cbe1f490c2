package controllers

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/parts_backend/models"
	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// respondWithError maps the model error taxonomy onto HTTP statuses. Conflict
// style failures (stock, transitions, stale versions) all surface as 409 so
// clients can re-fetch and retry; consistency failures stay 500.
func respondWithError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var stockErr *models.InsufficientStockError
	var transitionErr *models.InvalidTransitionError
	var concurrentErr *models.ConcurrentModificationError
	var consistencyErr *models.InternalConsistencyError
	var duplicateErr *utils.DuplicateValueError
	var bindingErrs validator.ValidationErrors

	switch {
	case errors.As(err, &bindingErrs):
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
	case errors.As(err, &duplicateErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": duplicateErr.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     stockErr.Error(),
			"part_no":   stockErr.PartNo,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
	case errors.As(err, &concurrentErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":           concurrentErr.Error(),
			"current_version": concurrentErr.ActualVersion,
		})
	case errors.As(err, &consistencyErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": consistencyErr.Message})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
