package environment

import "testing"

func strPtr(s string) *string { return &s }

func TestValidateImageOrDockerfile(t *testing.T) {
	tests := []struct {
		name       string
		image      *string
		dockerfile *string
		wantErr    bool
	}{
		{name: "image only", image: strPtr("alpine:3.19"), wantErr: false},
		{name: "dockerfile only", dockerfile: strPtr("FROM alpine"), wantErr: false},
		{name: "neither set", wantErr: true},
		{name: "both set", image: strPtr("alpine"), dockerfile: strPtr("FROM alpine"), wantErr: true},
		{name: "invalid image chars", image: strPtr("Alpine!!!"), wantErr: true},
		{name: "image with registry and tag", image: strPtr("ghcr.io/acme/app:v1.2.3"), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateImageOrDockerfile(tt.image, tt.dockerfile)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateImageOrDockerfile(%v, %v) error = %v, wantErr %v", tt.image, tt.dockerfile, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSecretKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid upper snake", key: "API_TOKEN", wantErr: false},
		{name: "valid leading underscore", key: "_PRIVATE", wantErr: false},
		{name: "lowercase rejected", key: "api_token", wantErr: true},
		{name: "leading digit rejected", key: "1TOKEN", wantErr: true},
		{name: "empty rejected", key: "", wantErr: true},
		{name: "hyphen rejected", key: "API-TOKEN", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSecretKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSecretKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}
