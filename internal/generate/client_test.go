package generate

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL: "https://gen.example.com",
		APIKey:  "test-key",
		Model:   "block-diffusion-1",
	})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(c.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestGenerateReturnsImageURL(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://gen.example.com/v1/images/generations",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"data": []map[string]string{{"url": "https://cdn.example.com/generated/42.png"}},
			})
		})

	url, err := c.Generate(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/generated/42.png", url)
}

func TestGenerateRateLimited(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://gen.example.com/v1/images/generations",
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{"error":{"message":"quota"}}`))

	_, err := c.Generate(context.Background(), 42)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestGenerateUpstreamFailure(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://gen.example.com/v1/images/generations",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":{"message":"prompt rejected"}}`))

	_, err := c.Generate(context.Background(), 42)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRateLimited)
	require.Contains(t, err.Error(), "prompt rejected")
}

func TestGenerateEmptyResponse(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, "https://gen.example.com/v1/images/generations",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[]}`))

	_, err := c.Generate(context.Background(), 42)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no image")
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "k"})
	require.Error(t, err, "missing base url")

	_, err = New(Config{BaseURL: "https://gen.example.com"})
	require.Error(t, err, "missing api key")
}

func TestPromptBounded(t *testing.T) {
	t.Parallel()

	p := Prompt(1_000_000_000)
	require.Contains(t, p, "One Billion")
	require.Less(t, len(p), 400)
}
