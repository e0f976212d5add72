package translator

import (
	"context"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GoogleConfig selects the credentials used for Cloud Translation. With no
// credentials file the client falls back to application default credentials.
type GoogleConfig struct {
	Credentials string
	Project     string
	Endpoint    string
}

type GoogleService struct {
	client *translate.Client
}

func NewGoogleService(ctx context.Context, cfg GoogleConfig) (*GoogleService, error) {
	var opts []option.ClientOption
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithQuotaProject(cfg.Project))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &GoogleService{client: client}, nil
}

func (s *GoogleService) Name() string {
	return "google"
}

func (s *GoogleService) Translate(ctx context.Context, text, source, target string) (string, error) {
	targetTag, err := language.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target language: %w", err)
	}

	var opts *translate.Options
	if source != "" {
		sourceTag, err := language.Parse(source)
		if err != nil {
			return "", fmt.Errorf("invalid source language: %w", err)
		}
		opts = &translate.Options{Source: sourceTag, Format: translate.Text}
	}

	translations, err := s.client.Translate(ctx, []string{text}, targetTag, opts)
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	if len(translations) == 0 {
		return "", fmt.Errorf("no translation returned")
	}
	return translations[0].Text, nil
}

func (s *GoogleService) IsAvailable(ctx context.Context) error {
	if _, err := s.client.SupportedLanguages(ctx, language.English); err != nil {
		return fmt.Errorf("google translate not available: %w", err)
	}
	return nil
}

func (s *GoogleService) Close() error {
	return s.client.Close()
}
