// Package upstream is the egress client for the upstream profile service
// (spec.md §6): authenticate/validate/refresh, the skin-change endpoint,
// profile fetch, and the security-question challenge flow.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/http2"

	"github.com/sony/gobreaker"
)

const userAgent = "MineSkin.org"

// Challenge is one security question returned by GET challenges.
type Challenge struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}

// Answer pairs a challenge id with the stored answer text.
type Answer struct {
	ID     int    `json:"id"`
	Answer string `json:"answer"`
}

// Client talks to the upstream profile service over HTTP, every call
// wrapped in a circuit breaker (spec.md §7 "the core does not retry
// upstream skin-change; callers retry" — the breaker protects against a
// wedged upstream without adding engine-side retries of its own).
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New builds a Client with an HTTP/2-aware transport and the bounded
// per-call timeout spec.md §5 requires (default 30s).
func New(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{}
	_ = http2.ConfigureTransport(transport)

	settings := gobreaker.Settings{
		Name:        "upstream-profile-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *Client) do(req *http.Request, forwardedFor string) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("REMOTE_ADDR", forwardedFor)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}, bearer, forwardedFor string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.do(req, forwardedFor)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return resp, fmt.Errorf("upstream %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// AuthenticateRequest mirrors spec.md §6's POST /authenticate body.
type AuthenticateRequest struct {
	Agent       Agent  `json:"agent"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

// Agent is the fixed Minecraft agent tag every auth call sends.
type Agent struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate performs the login path and returns a fresh access token.
func (c *Client) Authenticate(ctx context.Context, username, password, clientToken, forwardedFor string) (string, error) {
	var out tokenResponse
	_, err := c.postJSON(ctx, "/authenticate", AuthenticateRequest{
		Agent:       Agent{Name: "Minecraft", Version: 1},
		Username:    username,
		Password:    password,
		ClientToken: clientToken,
		RequestUser: true,
	}, &out, "", forwardedFor)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("upstream: authenticate returned empty access token")
	}
	return out.AccessToken, nil
}

type tokenRequest struct {
	AccessToken string `json:"accessToken"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

// Validate returns nil if accessToken is still valid.
func (c *Client) Validate(ctx context.Context, accessToken, clientToken, forwardedFor string) error {
	_, err := c.postJSON(ctx, "/validate", tokenRequest{AccessToken: accessToken, ClientToken: clientToken, RequestUser: true}, nil, "", forwardedFor)
	return err
}

// Refresh exchanges a (possibly expired) access token for a new one.
func (c *Client) Refresh(ctx context.Context, accessToken, clientToken, forwardedFor string) (string, error) {
	var out tokenResponse
	_, err := c.postJSON(ctx, "/refresh", tokenRequest{AccessToken: accessToken, ClientToken: clientToken, RequestUser: true}, &out, "", forwardedFor)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("upstream: refresh returned empty access token")
	}
	return out.AccessToken, nil
}

// ChangeSkinURL drives the JSON form of POST /minecraft/profile/skins.
func (c *Client) ChangeSkinURL(ctx context.Context, accessToken, variant, url, forwardedFor string) error {
	body := struct {
		Variant string `json:"variant"`
		URL     string `json:"url"`
	}{Variant: variant, URL: url}
	_, err := c.postJSON(ctx, "/minecraft/profile/skins", body, nil, accessToken, forwardedFor)
	return err
}

// ChangeSkinUpload drives the multipart form of POST
// /minecraft/profile/skins.
func (c *Client) ChangeSkinUpload(ctx context.Context, accessToken, variant string, file []byte, forwardedFor string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("variant", variant); err != nil {
		return err
	}
	part, err := w.CreateFormFile("file", "skin.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(file); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/minecraft/profile/skins", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.do(req, forwardedFor)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upstream skin change returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// ProfileProperty is one entry of the profile's "properties" array.
type ProfileProperty struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature"`
}

type profileResponse struct {
	Properties []ProfileProperty `json:"properties"`
}

// FetchProfile GETs the account's profile and returns the "textures"
// property's value/signature pair (spec.md §4.10 Stage E).
func (c *Client) FetchProfile(ctx context.Context, accessToken, forwardedFor string) (value, signature string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/profile", nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.do(req, forwardedFor)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("upstream profile fetch returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", err
	}
	for _, p := range parsed.Properties {
		if p.Name == "textures" {
			return p.Value, p.Signature, nil
		}
	}
	return "", "", fmt.Errorf("upstream profile: no textures property")
}

// FetchPublicProfile GETs another account's public profile by uuid, used
// by the fromUser entry point to locate the texture it should clone —
// no bearer token is sent since this endpoint is public.
func (c *Client) FetchPublicProfile(ctx context.Context, uuid, forwardedFor string) (value, signature string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/minecraft/profile/"+uuid, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.do(req, forwardedFor)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("upstream public profile fetch returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", err
	}
	for _, p := range parsed.Properties {
		if p.Name == "textures" {
			return p.Value, p.Signature, nil
		}
	}
	return "", "", fmt.Errorf("upstream public profile: no textures property")
}

// ChallengeAnswered GETs the challenge-location endpoint; a 2xx means the
// account has already satisfied the security question.
func (c *Client) ChallengeAnswered(ctx context.Context, accessToken, forwardedFor string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/security/location", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.do(req, forwardedFor)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode/100 == 2, nil
}

// Challenges fetches the security question set.
func (c *Client) Challenges(ctx context.Context, accessToken, forwardedFor string) ([]Challenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/security/challenges", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.do(req, forwardedFor)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upstream challenges returned %d: %s", resp.StatusCode, string(data))
	}
	var out []Challenge
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitAnswers posts answers to every challenge question.
func (c *Client) SubmitAnswers(ctx context.Context, accessToken string, answers []Answer, forwardedFor string) error {
	_, err := c.postJSON(ctx, "/user/security/location", answers, nil, accessToken, forwardedFor)
	return err
}
