package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// PinataStore pins sealed payloads through a Pinata-compatible HTTP
// endpoint and reads them back through a gateway.
type PinataStore struct {
	httpClient *http.Client
	pinURL     string
	gatewayURL string
	apiKey     string
	apiSecret  string
}

type PinataConfig struct {
	PinURL     string
	GatewayURL string
	APIKey     string
	APISecret  string
}

func NewPinataStore(cfg PinataConfig) (*PinataStore, error) {
	if cfg.PinURL == "" || cfg.GatewayURL == "" {
		return nil, errors.New("pinata pin url and gateway url are required")
	}
	return &PinataStore{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pinURL:     cfg.PinURL,
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
	}, nil
}

func (s *PinataStore) Put(ctx context.Context, name string, payload []byte) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(payload); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.pinURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("pinata_api_key", s.apiKey)
	req.Header.Set("pinata_secret_api_key", s.apiSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("pin upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", errors.New("pin response missing IpfsHash")
	}
	return out.IpfsHash, nil
}

func (s *PinataStore) Get(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gatewayURL+"/ipfs/"+cid, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway fetch failed (%d) for %s", resp.StatusCode, cid)
	}
	return io.ReadAll(resp.Body)
}
