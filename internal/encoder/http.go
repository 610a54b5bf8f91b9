// Package encoder adapts the external voice feature encoder. The model runs
// out of process; this client posts raw audio and receives the embedding.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"voicepassport/internal/matching"
	"voicepassport/internal/platform/config"
	dErrors "voicepassport/pkg/domain-errors"
)

// HTTPEncoder implements matching.Encoder against the embedding service.
type HTTPEncoder struct {
	endpoint string
	client   *http.Client
}

// NewHTTP builds an encoder client for the configured endpoint.
func NewHTTP(cfg config.Encoder) (*HTTPEncoder, error) {
	if cfg.Endpoint == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "encoder endpoint is required")
	}
	return &HTTPEncoder{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts the sample bytes and decodes the returned vector. Transport
// failures are transient; a malformed response or wrong dimensionality is
// an encoding failure.
func (e *HTTPEncoder) Embed(ctx context.Context, sample []byte) (matching.Embedding, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(sample))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build encoder request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "encoder unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, dErrors.New(dErrors.CodeTransient,
			fmt.Sprintf("encoder returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.New(dErrors.CodeEncoding,
			fmt.Sprintf("encoder rejected sample with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "read encoder response")
	}
	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "decode encoder response")
	}

	emb := matching.Embedding(decoded.Embedding)
	if err := emb.Validate(); err != nil {
		return nil, err
	}
	return emb, nil
}
