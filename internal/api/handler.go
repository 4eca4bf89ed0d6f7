package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// setupCommon installs the middleware and endpoints every service exposes
func setupCommon(router *gin.Engine, service string) {
	router.Use(gin.Recovery())
	router.Use(tracingMiddleware())
	router.Use(prometheusMiddleware())
	if gin.Mode() != gin.TestMode {
		router.Use(gin.Logger())
	}

	router.GET("/health", healthCheck(service))
	router.GET("/ready", healthCheck(service))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck handles health check requests
func healthCheck(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": service,
			"time":    time.Now().Unix(),
		})
	}
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch apperr.Code(err) {
	case apperr.CodeValidation, apperr.CodeInsufficientStock:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict, apperr.CodeDeductionDrift:
		return http.StatusConflict
	case apperr.CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	respondErrorStatus(c, statusFor(err), err)
}

// respondErrorStatus writes the {"error", "code"} body every service uses
func respondErrorStatus(c *gin.Context, status int, err error) {
	code := apperr.Code(err)
	msg := err.Error()
	if code == apperr.CodeInternal {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

// bindJSON decodes the body; a malformed body is a validation error
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, fmt.Errorf("%w: invalid request body: %v", apperr.ErrValidation, err))
		return false
	}
	return true
}

// tracingMiddleware continues the caller's trace for every request
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := util.ExtractHTTP(c.Request.Context(), c.Request.Header)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := util.GetTracer().Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.RecordError(errors.New(c.Errors.String()))
		}
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
