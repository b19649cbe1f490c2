package routes

import (
	"net/http"

	"bitbucket.org/mmdatafocus/parts_backend/controllers"
	"bitbucket.org/mmdatafocus/parts_backend/middlewares"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter() *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		"X-Business-Id", "X-User-Name", "X-Correlation-Id")
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(middlewares.RequestContext())
	{
		api.POST("/parts", controllers.CreatePart)
		api.POST("/accounts", controllers.CreateAccount)

		api.POST("/stock-receipts", controllers.CreateStockReceipt)
		api.GET("/stock-balances/:partId", controllers.GetStockBalance)

		api.POST("/invoices", controllers.CreateInvoice)
		api.GET("/invoices/:id", controllers.GetInvoice)
		api.POST("/invoices/:id/deliveries", controllers.RecordDelivery)
		api.POST("/invoices/:id/approve", controllers.ApproveInvoice)
		api.POST("/invoices/:id/hold", controllers.HoldInvoice)
		api.POST("/invoices/:id/release-hold", controllers.ReleaseHold)
		api.POST("/invoices/:id/cancel", controllers.CancelInvoice)
		api.PUT("/invoices/:id/status", controllers.UpdateInvoiceStatus)
		api.DELETE("/invoices/:id", controllers.DeleteInvoice)
	}

	return router
}
