// Package gcp holds the Google API authentication shared by the storage and
// warehouse clients.
package gcp

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ClientOption authenticates with a service account key file when given,
// else with application default credentials.
func ClientOption(ctx context.Context, credentialsFile string, scopes ...string) (option.ClientOption, error) {
	if credentialsFile != "" {
		blob, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, blob, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		return option.WithCredentials(creds), nil
	}
	ts, err := google.DefaultTokenSource(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("default credentials: %w", err)
	}
	return option.WithTokenSource(ts), nil
}
