// Package devserver serves the Lambda handlers over plain HTTP for local
// development.
package devserver

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"listingflow/internal/handlers"
)

// LambdaFunc is the signature of an API Gateway v2 Lambda handler.
type LambdaFunc func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// NewRouter mounts the webhook, log and eBay routes plus /health.
func NewRouter(log *zap.Logger, webhooks, drafts LambdaFunc) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "service": "listingflow"})
	})

	for _, p := range []string{handlers.OrdersPath, handlers.ProductsPath, handlers.LogsPath} {
		r.Any(p, adapt(webhooks))
	}
	if drafts != nil {
		r.Any(handlers.EbayDraftsPath, adapt(drafts))
	}
	return r
}

// adapt converts the gin request into the event API Gateway would deliver.
// Header names are lowercased the way API Gateway does it.
func adapt(fn LambdaFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		req := events.APIGatewayV2HTTPRequest{
			RawPath:               c.Request.URL.Path,
			RawQueryString:        c.Request.URL.RawQuery,
			Headers:               map[string]string{},
			QueryStringParameters: map[string]string{},
			Body:                  string(body),
		}
		for k, v := range c.Request.Header {
			req.Headers[strings.ToLower(k)] = strings.Join(v, ",")
		}
		for k, v := range c.Request.URL.Query() {
			req.QueryStringParameters[k] = strings.Join(v, ",")
		}
		req.RequestContext.HTTP.Method = c.Request.Method
		req.RequestContext.HTTP.Path = c.Request.URL.Path
		req.RequestContext.HTTP.SourceIP = c.ClientIP()
		req.RequestContext.TimeEpoch = time.Now().UnixMilli()

		res, err := fn(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		for k, v := range res.Headers {
			c.Header(k, v)
		}
		out := []byte(res.Body)
		if res.IsBase64Encoded {
			if out, err = base64.StdEncoding.DecodeString(res.Body); err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": "invalid base64 response"})
				return
			}
		}
		status := res.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		c.Status(status)
		_, _ = c.Writer.Write(out)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
