package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes mounts the v1 API. createLimit guards job creation and
// retries.
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers, createLimit gin.HandlerFunc) {
	viz := h.Visualization

	visualizations := v1.Group("/visualizations")
	{
		visualizations.POST("", createLimit, viz.CreateVisualization)
		visualizations.GET("", viz.ListVisualizations)
		visualizations.GET("/:jid", viz.GetVisualization)
		visualizations.DELETE("/:jid", viz.DeleteVisualization)
		visualizations.POST("/:jid/cancel", viz.CancelVisualization)
		visualizations.POST("/:jid/retry", createLimit, viz.RetryVisualization)
		visualizations.GET("/:jid/queue-position", viz.QueuePosition)

		visualizations.POST("/:jid/images/:iid/select", viz.SelectImage)
		visualizations.DELETE("/:jid/images/:iid", viz.DeleteImage)
	}

	v1.GET("/books/:bid/visualizations", viz.ListBookVisualizations)
	v1.GET("/pages/:pid/visualizations", viz.ListPageVisualizations)
	v1.GET("/queue/status", viz.QueueStatus)

	if h.Events != nil {
		v1.GET("/events", h.Events.Stream)
	}
	if h.Providers != nil {
		v1.GET("/providers", h.Providers.ListProviders)
	}
}
