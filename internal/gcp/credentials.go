// Package gcp builds client options shared by the Google API clients.
package gcp

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ClientOptions returns credentials from a service account file when one is
// given, otherwise application default credentials.
func ClientOptions(ctx context.Context, credentialsFile string) ([]option.ClientOption, error) {
	if credentialsFile == "" {
		creds, err := google.FindDefaultCredentials(ctx, CloudPlatformScope)
		if err != nil {
			return nil, eris.Wrap(err, "gcp: find default credentials")
		}
		return []option.ClientOption{option.WithCredentials(creds)}, nil
	}

	jsonKey, err := os.ReadFile(credentialsFile) // #nosec G304
	if err != nil {
		return nil, eris.Wrapf(err, "gcp: read credentials file %s", credentialsFile)
	}
	creds, err := google.CredentialsFromJSON(ctx, jsonKey, CloudPlatformScope)
	if err != nil {
		return nil, eris.Wrap(err, "gcp: parse credentials")
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// RegionalEndpoint is the Vertex AI API root for a location.
func RegionalEndpoint(location string) string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/", location)
}
