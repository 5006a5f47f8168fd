package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
	"github.com/ddm-federation/mahiru-go/internal/replication"
	"github.com/ddm-federation/mahiru-go/internal/workflow"
)

// Endpoints resolves a site's identifier to the base URL its HTTP API is
// reachable at, the client-side analogue of the registry's SiteDescription
// endpoint field.
type Endpoints interface {
	Endpoint(site ids.Identifier) (string, error)
}

// updateWireIn mirrors updateWire but keeps each element as raw JSON, so the
// caller's decode func can unmarshal it into the right concrete type.
type updateWireIn struct {
	FromVersion int               `json:"from_version"`
	ToVersion   int               `json:"to_version"`
	ValidUntil  string            `json:"valid_until"`
	Created     []json.RawMessage `json:"created"`
	Deleted     []json.RawMessage `json:"deleted"`
}

// RemoteSource implements replication.Source[T] over HTTP GET <base>/updates,
// the client side of the §6.2 wire protocol.
type RemoteSource[T replication.Keyed] struct {
	HTTPClient *http.Client
	URL        string // full URL of the updates endpoint, e.g. https://site/policies/updates
	Decode     func(json.RawMessage) (T, error)
}

// NewRemoteSource creates a RemoteSource polling rawURL, the full URL of the
// updates endpoint.
func NewRemoteSource[T replication.Keyed](client *http.Client, rawURL string, decode func(json.RawMessage) (T, error)) *RemoteSource[T] {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteSource[T]{HTTPClient: client, URL: rawURL, Decode: decode}
}

// GetUpdatesSince implements replication.Source[T].
func (s *RemoteSource[T]) GetUpdatesSince(fromVersion int) replication.Update[T] {
	update, err := s.fetch(fromVersion)
	if err != nil {
		// A failed pull leaves the replica at its previous version; the next
		// Update() call will simply retry once the replica goes stale again.
		return replication.Update[T]{FromVersion: fromVersion, ToVersion: fromVersion, ValidUntil: time.Now()}
	}
	return update
}

func (s *RemoteSource[T]) fetch(fromVersion int) (replication.Update[T], error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return replication.Update[T]{}, err
	}
	q := u.Query()
	q.Set("from_version", strconv.Itoa(fromVersion))
	u.RawQuery = q.Encode()

	resp, err := s.HTTPClient.Get(u.String())
	if err != nil {
		return replication.Update[T]{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return replication.Update[T]{}, fmt.Errorf("updates request failed: %s", resp.Status)
	}

	var wire updateWireIn
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return replication.Update[T]{}, err
	}

	validUntil, err := time.Parse(time.RFC3339, wire.ValidUntil)
	if err != nil {
		return replication.Update[T]{}, err
	}

	created, err := decodeAll(wire.Created, s.Decode)
	if err != nil {
		return replication.Update[T]{}, err
	}
	deleted, err := decodeAll(wire.Deleted, s.Decode)
	if err != nil {
		return replication.Update[T]{}, err
	}

	return replication.Update[T]{
		FromVersion: wire.FromVersion,
		ToVersion:   wire.ToVersion,
		ValidUntil:  validUntil,
		Created:     created,
		Deleted:     deleted,
	}, nil
}

func decodeAll[T any](raws []json.RawMessage, decode func(json.RawMessage) (T, error)) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		obj, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Client is the HTTP implementation of execution.SiteClient (§4.7): it
// retrieves assets and dispatches execution requests across sites over the
// site's own HTTP API.
type Client struct {
	HTTPClient *http.Client
	Endpoints  Endpoints
	Token      func(ctx context.Context, site ids.Identifier) (string, error) // optional JWT bearer issuer
}

// NewClient creates a Client resolving peer sites via endpoints.
func NewClient(httpClient *http.Client, endpoints Endpoints) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTPClient: httpClient, Endpoints: endpoints}
}

type retrieveAssetResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	ImageURL string `json:"image_url"`
}

// RetrieveAsset implements execution.SiteClient.
func (c *Client) RetrieveAsset(ctx context.Context, site, assetID, requester ids.Identifier) (assetstore.Asset, error) {
	base, err := c.Endpoints.Endpoint(site)
	if err != nil {
		return assetstore.Asset{}, err
	}
	u, err := url.Parse(base + "/assets/" + url.PathEscape(string(assetID)))
	if err != nil {
		return assetstore.Asset{}, err
	}
	q := u.Query()
	q.Set("requester", string(requester))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return assetstore.Asset{}, err
	}
	c.authorize(ctx, req, site)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return assetstore.Asset{}, apperrors.Unavailable(string(site), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return assetstore.Asset{}, apperrors.NotFound("asset", string(assetID))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return assetstore.Asset{}, apperrors.Unavailable(string(site), fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var out retrieveAssetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return assetstore.Asset{}, err
	}

	return assetstore.Asset{
		ID:        ids.Identifier(out.ID),
		Kind:      assetstore.Kind(out.Kind),
		ImagePath: out.ImageURL,
	}, nil
}

// StartWorkflow implements execution.SiteClient.
func (c *Client) StartWorkflow(ctx context.Context, site ids.Identifier, request workflow.ExecutionRequest) error {
	base, err := c.Endpoints.Endpoint(site)
	if err != nil {
		return err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(ctx, req, site)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return apperrors.Unavailable(string(site), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return apperrors.Unavailable(string(site), fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request, site ids.Identifier) {
	if c.Token == nil {
		return
	}
	if tok, err := c.Token(ctx, site); err == nil && tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}
