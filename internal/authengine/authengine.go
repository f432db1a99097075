// Package authengine drives the per-account authentication state machine
// described in spec.md §4.9: EMPTY -> HAS_ACCESS -> VALID, with a
// refresh shortcut and a security-question challenge completed on
// demand.
package authengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mineskin-go/generator/internal/apperr"
	"github.com/mineskin-go/generator/internal/catalog"
	"github.com/mineskin-go/generator/internal/secretcodec"
	"github.com/mineskin-go/generator/internal/upstream"
)

// Client is the subset of the upstream profile service the engine needs;
// satisfied by *upstream.Client, mocked in tests.
type Client interface {
	Authenticate(ctx context.Context, username, password, clientToken, forwardedFor string) (string, error)
	Validate(ctx context.Context, accessToken, clientToken, forwardedFor string) error
	Refresh(ctx context.Context, accessToken, clientToken, forwardedFor string) (string, error)
	ChallengeAnswered(ctx context.Context, accessToken, forwardedFor string) (bool, error)
	Challenges(ctx context.Context, accessToken, forwardedFor string) ([]upstream.Challenge, error)
	SubmitAnswers(ctx context.Context, accessToken string, answers []upstream.Answer, forwardedFor string) error
}

// Engine runs the state machine against a Client, decrypting stored
// credentials through a secretcodec.Codec.
type Engine struct {
	client Client
	codec  *secretcodec.Codec
}

// New builds an Engine.
func New(client Client, codec *secretcodec.Codec) *Engine {
	return &Engine{client: client, codec: codec}
}

// EnsureAuthenticated leaves account holding a valid access token, logging
// in or refreshing as needed, and returns only an error. account is
// mutated in place; callers
// persist it afterward (the scheduler does this on release).
func (e *Engine) EnsureAuthenticated(ctx context.Context, account *catalog.Account) error {
	if account.ClientToken == "" {
		account.ClientToken = uuid.NewString()
	}

	if account.AccessToken != "" {
		if err := e.client.Validate(ctx, account.AccessToken, account.ClientToken, account.RequestIP); err == nil {
			return e.completeChallengeIfNeeded(ctx, account)
		}
		// Validate failed: try refresh before falling back to login.
		if newToken, err := e.client.Refresh(ctx, account.AccessToken, account.ClientToken, account.RequestIP); err == nil {
			account.AccessToken = newToken
			return e.completeChallengeIfNeeded(ctx, account)
		}
		account.AccessToken = ""
	}

	return e.login(ctx, account)
}

func (e *Engine) login(ctx context.Context, account *catalog.Account) error {
	password, err := e.codec.DecryptString(account.EncryptedPassword)
	if err != nil {
		return err // already a CREDENTIAL_UNREADABLE AppError
	}

	accessToken, err := e.client.Authenticate(ctx, account.Username, password, account.ClientToken, account.RequestIP)
	if err != nil {
		return apperr.Wrap(apperr.ErrAuth, err)
	}
	account.AccessToken = accessToken

	return e.completeChallengeIfNeeded(ctx, account)
}

// completeChallengeIfNeeded implements the security-question flow:
// spec.md §4.9's last paragraph, supplemented per SPEC_FULL.md §D.1.
func (e *Engine) completeChallengeIfNeeded(ctx context.Context, account *catalog.Account) error {
	answered, err := e.client.ChallengeAnswered(ctx, account.AccessToken, account.RequestIP)
	if err != nil {
		return apperr.Wrap(apperr.ErrAuth, err)
	}
	if answered {
		return nil
	}
	if account.EncryptedSecurityAnswer == "" {
		return apperr.ErrAuth.WithMessage("security challenge pending and no stored answer")
	}

	answer, err := e.codec.DecryptString(account.EncryptedSecurityAnswer)
	if err != nil {
		return err
	}

	questions, err := e.client.Challenges(ctx, account.AccessToken, account.RequestIP)
	if err != nil {
		return apperr.Wrap(apperr.ErrAuth, err)
	}

	answers := make([]upstream.Answer, len(questions))
	for i, q := range questions {
		answers[i] = upstream.Answer{ID: q.ID, Answer: answer}
	}
	if err := e.client.SubmitAnswers(ctx, account.AccessToken, answers, account.RequestIP); err != nil {
		return apperr.Wrap(apperr.ErrAuth, err)
	}

	nowAnswered, err := e.client.ChallengeAnswered(ctx, account.AccessToken, account.RequestIP)
	if err != nil {
		return apperr.Wrap(apperr.ErrAuth, err)
	}
	if !nowAnswered {
		return apperr.ErrAuth.WithMessage(fmt.Sprintf("security challenge not accepted for account %d", account.ID))
	}
	return nil
}
