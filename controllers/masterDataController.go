package controllers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/parts_backend/models"
	"github.com/gin-gonic/gin"
)

func CreatePart(c *gin.Context) {
	var input models.NewPart
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	part, err := models.CreatePart(c.Request.Context(), &input)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, part)
}

func CreateAccount(c *gin.Context) {
	var input models.NewAccount
	if err := c.ShouldBindJSON(&input); err != nil {
		respondWithError(c, err)
		return
	}
	account, err := models.CreateAccount(c.Request.Context(), &input)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}
