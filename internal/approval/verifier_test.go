package approval

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudfence/containment-engine/internal/cache"
	"github.com/cloudfence/containment-engine/internal/models"
	"github.com/cloudfence/containment-engine/internal/secrets"
	"github.com/cloudfence/containment-engine/internal/tokenstore"
)

const testSecretName = "containment/approval-secret"

func newTestPair(t *testing.T) (*Issuer, *Verifier, *tokenstore.Store) {
	t.Helper()
	store := tokenstore.New(cache.NewMemoryProvider(), time.Hour)
	provider := secrets.Static{testSecretName: []byte("unit-test-key")}
	issuer := NewIssuer(nil, store, provider, testSecretName, 30*time.Minute, "https://containment.example.com")
	verifier := NewVerifier(nil, store, provider, testSecretName)
	return issuer, verifier, store
}

func testFinding() models.Finding {
	return models.Finding{
		ResourceID:   "i-0abc123",
		FindingID:    "finding-42",
		FindingTitle: "CryptoCurrency mining activity",
		Severity:     models.SeverityHigh,
	}
}

func TestIssueAndVerify(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	tok, reference, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)
	require.NotEmpty(t, tok.TokenID)
	require.NotEmpty(t, tok.Signature)
	require.True(t, strings.HasPrefix(reference, "https://containment.example.com/approve?"))

	parsed, err := url.Parse(reference)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, tok.TokenID, q.Get("token"))
	require.Equal(t, tok.Signature, q.Get("sig"))
	require.Equal(t, "i-0abc123", q.Get("resourceId"))

	auth, err := verifier.Verify(ctx, tok.TokenID, tok.Signature, tok.ResourceID, tok.FindingID)
	require.NoError(t, err)
	require.Equal(t, models.Authorization{ResourceID: "i-0abc123", FindingID: "finding-42"}, auth)
}

func TestVerifyRejectsReplay(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	tok, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, tok.TokenID, tok.Signature, tok.ResourceID, tok.FindingID)
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, tok.TokenID, tok.Signature, tok.ResourceID, tok.FindingID)
	require.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestVerifyUnknownToken(t *testing.T) {
	_, verifier, _ := newTestPair(t)

	_, err := verifier.Verify(context.Background(), "deadbeef", "sig", "i-0abc123", "finding-42")
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	tok, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)

	verifier.WithClock(func() time.Time { return tok.ExpiresAt.Add(time.Second) })
	_, err = verifier.Verify(ctx, tok.TokenID, tok.Signature, tok.ResourceID, tok.FindingID)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyForgedSignature(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	tok, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)

	forged := Sign([]byte("attacker-key"), tok.ResourceID, tok.FindingID, tok.TokenID)
	_, err = verifier.Verify(ctx, tok.TokenID, forged, tok.ResourceID, tok.FindingID)
	require.ErrorIs(t, err, ErrSignatureMismatch)

	// A rejected attempt must not consume the token.
	_, err = verifier.Verify(ctx, tok.TokenID, tok.Signature, tok.ResourceID, tok.FindingID)
	require.NoError(t, err)
}

func TestVerifyMismatchedResource(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	tok, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)

	_, err = verifier.Verify(ctx, tok.TokenID, tok.Signature, "i-different", tok.FindingID)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestReissueSupersedesPreviousToken(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	first, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)
	second, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)
	require.NotEqual(t, first.TokenID, second.TokenID)

	_, err = verifier.Verify(ctx, first.TokenID, first.Signature, first.ResourceID, first.FindingID)
	require.ErrorIs(t, err, ErrUnknownToken)

	_, err = verifier.Verify(ctx, second.TokenID, second.Signature, second.ResourceID, second.FindingID)
	require.NoError(t, err)
}

func TestVerifyConcurrentSingleWinner(t *testing.T) {
	issuer, verifier, _ := newTestPair(t)
	ctx := context.Background()

	tok, _, err := issuer.Issue(ctx, testFinding())
	require.NoError(t, err)

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := verifier.Verify(ctx, tok.TokenID, tok.Signature, tok.ResourceID, tok.FindingID)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var successes, replays int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyUsed):
			replays++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes, "exactly one caller must win the claim")
	require.Equal(t, workers-1, replays)
}
