package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"androidbox/provider"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "androidbox_actions_total",
		Help: "Actions dispatched through the management API.",
	}, []string{"device", "action", "outcome"})

	bootDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "androidbox_boot_duration_seconds",
		Help:    "Wall-clock time from container start to system booted.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 8), // 5s .. ~10min
	})
)

func observeBoot(report *provider.BootReport) {
	if report != nil && report.State == provider.StateSystemBooted {
		bootDuration.Observe(report.Elapsed.Seconds())
	}
}

func observeAction(device string, resp map[string]interface{}) {
	action, _ := resp["action"].(string)
	if action == "" {
		action = "unknown"
	}
	outcome := "error"
	if ok, _ := resp["success"].(bool); ok {
		outcome = "ok"
	}
	actionsTotal.WithLabelValues(device, action, outcome).Inc()
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
