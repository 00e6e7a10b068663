package dolphin

import (
	"strings"
	"testing"
	"time"
)

func TestSignDeterministic(t *testing.T) {
	creds := Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		SessionToken:    "token/with+special=chars",
	}
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	first := Sign("a1b2c3-ats.iot.eu-west-1.amazonaws.com", "eu-west-1", creds, now)
	second := Sign("a1b2c3-ats.iot.eu-west-1.amazonaws.com", "eu-west-1", creds, now)
	if first != second {
		t.Fatalf("signing is not deterministic:\n%s\n%s", first, second)
	}

	if !strings.HasPrefix(first, "wss://a1b2c3-ats.iot.eu-west-1.amazonaws.com/mqtt?") {
		t.Fatalf("unexpected URL prefix: %s", first)
	}
}

func TestSignParameterOrder(t *testing.T) {
	creds := Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	signed := Sign("endpoint.example.com", "us-east-1", creds, now)
	query := signed[strings.Index(signed, "?")+1:]
	params := strings.Split(query, "&")

	wantOrder := []string{"X-Amz-Algorithm", "X-Amz-Credential", "X-Amz-Date", "X-Amz-SignedHeaders", "X-Amz-Signature"}
	if len(params) != len(wantOrder) {
		t.Fatalf("expected %d params, got %d: %s", len(wantOrder), len(params), query)
	}
	for i, param := range params {
		if !strings.HasPrefix(param, wantOrder[i]+"=") {
			t.Errorf("param %d = %q, want prefix %q", i, param, wantOrder[i])
		}
	}

	if !strings.Contains(signed, "X-Amz-Date=20240102T030405Z") {
		t.Errorf("timestamp not stripped of punctuation: %s", signed)
	}
	if !strings.Contains(signed, "X-Amz-Credential=AKID%2F20240102%2Fus-east-1%2Fiotdevicegateway%2Faws4_request") {
		t.Errorf("credential scope not encoded as expected: %s", signed)
	}
}

// The session token must never be part of the signed query substring; it is
// appended only after the signature.
func TestSignTokenOutsideSignedQuery(t *testing.T) {
	base := Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"}
	withToken := base
	withToken.SessionToken = "SESSIONTOKEN"
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	plain := Sign("endpoint.example.com", "us-east-1", base, now)
	tokened := Sign("endpoint.example.com", "us-east-1", withToken, now)

	if !strings.HasPrefix(tokened, plain) {
		t.Fatalf("token changed the signed portion of the URL:\n%s\n%s", plain, tokened)
	}
	if !strings.HasSuffix(tokened, "&X-Amz-Security-Token=SESSIONTOKEN") {
		t.Fatalf("token not appended after the signature: %s", tokened)
	}

	sigIdx := strings.Index(tokened, "X-Amz-Signature=")
	if strings.Contains(tokened[:sigIdx], "SESSIONTOKEN") {
		t.Fatalf("token appears before the signature: %s", tokened)
	}
}
