package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticateReturnsAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/authenticate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body AuthenticateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Username != "steve" {
			t.Fatalf("expected username steve, got %q", body.Username)
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "abc123"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	token, err := c.Authenticate(context.Background(), "steve", "hunter2", "client-token", "1.2.3.4")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("expected token abc123, got %q", token)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	if _, err := c.Authenticate(context.Background(), "steve", "hunter2", "client-token", ""); err == nil {
		t.Fatal("expected an error for an empty access token")
	}
}

func TestValidateSurfacesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	if err := c.Validate(context.Background(), "stale-token", "client-token", ""); err == nil {
		t.Fatal("expected Validate to surface a non-2xx status as an error")
	}
}

func TestRefreshReturnsNewToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "fresh-token"})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	token, err := c.Refresh(context.Background(), "stale-token", "client-token", "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "fresh-token" {
		t.Fatalf("expected fresh-token, got %q", token)
	}
}

func TestChangeSkinURLSendsVariantAndURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			t.Fatalf("expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Variant string `json:"variant"`
			URL     string `json:"url"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Variant != "slim" || body.URL != "https://example.com/skin.png" {
			t.Fatalf("unexpected body: %+v", body)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	if err := c.ChangeSkinURL(context.Background(), "access-token", "slim", "https://example.com/skin.png", ""); err != nil {
		t.Fatalf("ChangeSkinURL: %v", err)
	}
}

func TestChangeSkinUploadSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("variant") != "classic" {
			t.Fatalf("expected variant classic, got %q", r.FormValue("variant"))
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer file.Close()
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	err := c.ChangeSkinUpload(context.Background(), "access-token", "classic", []byte{1, 2, 3, 4}, "")
	if err != nil {
		t.Fatalf("ChangeSkinUpload: %v", err)
	}
}

func TestFetchProfileExtractsTexturesProperty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(profileResponse{Properties: []ProfileProperty{
			{Name: "textures", Value: "b64value", Signature: "b64sig"},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	value, signature, err := c.FetchProfile(context.Background(), "access-token", "")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if value != "b64value" || signature != "b64sig" {
		t.Fatalf("unexpected value/signature: %q %q", value, signature)
	}
}

func TestFetchProfileErrorsWithoutTexturesProperty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(profileResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	if _, _, err := c.FetchProfile(context.Background(), "access-token", ""); err == nil {
		t.Fatal("expected an error when textures property is missing")
	}
}

func TestFetchPublicProfileExtractsTexturesProperty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Fatal("public profile fetch must not send a bearer token")
		}
		_ = json.NewEncoder(w).Encode(profileResponse{Properties: []ProfileProperty{
			{Name: "textures", Value: "b64value", Signature: "b64sig"},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	value, signature, err := c.FetchPublicProfile(context.Background(), "11111111-1111-1111-1111-111111111111", "")
	if err != nil {
		t.Fatalf("FetchPublicProfile: %v", err)
	}
	if value != "b64value" || signature != "b64sig" {
		t.Fatalf("unexpected value/signature: %q %q", value, signature)
	}
}

func TestChallengeAnsweredReflectsStatusCode(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	answered, err := c.ChallengeAnswered(context.Background(), "access-token", "")
	if err != nil {
		t.Fatalf("ChallengeAnswered: %v", err)
	}
	if !answered {
		t.Fatal("expected answered=true on 200")
	}

	status = http.StatusForbidden
	answered, err = c.ChallengeAnswered(context.Background(), "access-token", "")
	if err != nil {
		t.Fatalf("ChallengeAnswered: %v", err)
	}
	if answered {
		t.Fatal("expected answered=false on 403")
	}
}

func TestChallengesReturnsQuestionList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Challenge{{ID: 1, Question: "q1"}, {ID: 2, Question: "q2"}})
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	questions, err := c.Challenges(context.Background(), "access-token", "")
	if err != nil {
		t.Fatalf("Challenges: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
}

func TestSubmitAnswersPostsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var answers []Answer
		if err := json.NewDecoder(r.Body).Decode(&answers); err != nil {
			t.Fatalf("decode answers: %v", err)
		}
		if len(answers) != 1 || answers[0].Answer != "42" {
			t.Fatalf("unexpected answers: %+v", answers)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second)
	err := c.SubmitAnswers(context.Background(), "access-token", []Answer{{ID: 1, Answer: "42"}}, "")
	if err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
}
