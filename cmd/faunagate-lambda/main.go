// Package main runs faunagate as an AWS Lambda function behind an API
// Gateway HTTP API.
package main

import (
	"context"
	"os"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	"github.com/artpar/faunagate/adapters/lambda"
	"github.com/artpar/faunagate/bootstrap"
	"github.com/artpar/faunagate/config"
	"github.com/artpar/faunagate/ports"
)

func main() {
	logger := bootstrap.LoggerFromEnv()

	path := os.Getenv(bootstrap.EnvConfigPath)
	if path == "" {
		path = "faunagate.yaml"
	}
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	app, err := bootstrap.New(cfg, bootstrap.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	if cfg.Backend.PublishOnStart {
		if _, err := app.Publish(context.Background(), ports.ImportMerge); err != nil {
			app.Logger.Fatal().Err(err).Msg("failed to publish")
		}
	}
	if err := app.InitHTTP(); err != nil {
		app.Logger.Fatal().Err(err).Msg("failed to initialize http")
	}

	awslambda.Start(lambda.New(app.Handler, app.Logger).Handle)
}
