// Package drive adapts the Google Drive v3 API to the folder listing,
// sharing and push-notification calls the gallery sync needs.
package drive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ServiceConfig selects how the Drive client authenticates.
// Exactly one of CredentialsFile or TokenSource is normally set; Endpoint
// points the client at another server (tests, proxies).
type ServiceConfig struct {
	CredentialsFile string
	TokenSource     oauth2.TokenSource
	Endpoint        string
}

// ErrNoCredentials is returned when neither a credentials file nor a token source is configured.
var ErrNoCredentials = errors.New("drive: no credentials configured")

// NewService creates a Drive API service.
func NewService(ctx context.Context, cfg ServiceConfig) (*drive.Service, error) {
	var opts []option.ClientOption
	switch {
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	case cfg.CredentialsFile != "":
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(drive.DriveScope),
		)
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	default:
		return nil, ErrNoCredentials
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}
