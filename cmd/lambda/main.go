package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"go.uber.org/zap"

	"thinknet-backend/internal/config"
	"thinknet-backend/internal/di"
)

var (
	chiLambda *chiadapter.ChiLambdaV2
	container *di.Container

	coldStart     = true
	coldStartTime time.Time
)

// init runs during cold start. A Lambda invocation cannot hold WebSocket
// sessions, so only the REST surface is served and reads go straight to
// storage.
func init() {
	coldStartTime = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, _, err = di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	chiLambda = chiadapter.NewV2(container.APIHandler())
	container.Logger.Info("Lambda cold start completed", zap.Duration("duration", time.Since(coldStartTime)))
}

// Handler is the Lambda function handler
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	resp, err := chiLambda.ProxyWithContextV2(ctx, req)
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if coldStart {
		resp.Headers["X-Cold-Start"] = "true"
		coldStart = false
	}
	if req.RequestContext.RequestID != "" {
		resp.Headers["X-Lambda-Request-ID"] = req.RequestContext.RequestID
	}
	if err != nil {
		container.Logger.Error("Lambda request failed",
			zap.String("method", req.RequestContext.HTTP.Method),
			zap.String("path", req.RequestContext.HTTP.Path),
			zap.Error(err),
		)
	}
	return resp, err
}

func main() {
	lambda.Start(Handler)
}
