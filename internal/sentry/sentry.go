package sentry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init creates a Sentry client for the given DSN.
// If DSN is empty, no client is created and nil is returned.
func Init(dsn, env, serverName, release string) (*sentry.Client, error) {
	if dsn == "" {
		return nil, nil
	}

	// Sampling and scope enrichment already happened in the pipeline.
	options := sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		ServerName:       serverName,
		Release:          release,
		AttachStacktrace: false,
		SampleRate:       1.0,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	return client, nil
}

// Flush waits for all pending Sentry events of client to be sent.
// Call this during graceful shutdown.
func Flush(client *sentry.Client, timeout time.Duration) bool {
	if client == nil {
		return true
	}
	return client.Flush(timeout)
}
