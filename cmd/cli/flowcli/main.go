package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/flowapi"
	"github.com/flow-tools/axf-deploy/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	URL           string `long:"url" description:"base URL of the flow executor, e.g. http://localhost:7860"`
	APIKey        string `long:"api-key" description:"API key sent in the x-api-key header"`
	FlowID        string `long:"flow" description:"flow ID to run"`
	Input         string `long:"input" description:"input value passed to the flow"`
	SessionID     string `long:"session" description:"optional session ID for conversational flows"`
	Timeout       int    `long:"timeout" description:"request timeout in seconds" default:"30"`
	RetryAttempts int    `long:"retry-attempts" description:"health poll attempts before running the flow" default:"10"`
	LogLevel      string `long:"log-level" description:"log level: debug, info, warn, error" default:"info"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	if opts.URL == "" || opts.FlowID == "" {
		fmt.Println("URL and flow ID are required")
		os.Exit(1)
	}

	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = opts.LogLevel
	zapLogger, err := logging.NewZapLogger(zapConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(
		logPrefix("axf-deploy"), logging.LogFuncs{
			Debugf: zapLogger.Debugf,
			Infof:  zapLogger.Infof,
			Warnf:  zapLogger.Warnf,
			Errorf: zapLogger.Errorf,
		})

	logger.Infof("opts: %+v", opts)

	client := flowapi.NewClient(flowapi.ClientOptions{
		BaseURL: opts.URL,
		APIKey:  opts.APIKey,
		Timeout: time.Duration(opts.Timeout) * time.Second,
	}, logger)

	ctx := context.Background()

	logger.Infof("Waiting for the flow executor to become healthy...")
	err = client.WaitHealthy(ctx, flowapi.RetryHealthOptions{
		RetryAttempts: opts.RetryAttempts,
	})
	if err != nil {
		logger.Errorf("Flow executor is not healthy: %v", err)
		os.Exit(1)
	}

	logger.Infof("Running flow %s...", opts.FlowID)
	response, err := client.RunFlow(ctx, opts.FlowID, flowapi.RunRequest{
		InputValue: opts.Input,
		SessionID:  opts.SessionID,
	})
	if err != nil {
		logger.Errorf("Flow run failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("Flow run status: %s", response.Status)
	fmt.Println(response.Result)
}
