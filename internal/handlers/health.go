package handlers

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// NewHealth returns the liveness handler for one deployed function.
func NewHealth(service string, log *zap.Logger) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		log.Debug("health check", zap.String("path", req.RawPath), zap.String("request_id", req.RequestContext.RequestID))
		return jsonResp(200, map[string]any{
			"ok":        true,
			"service":   service,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
