package dolphin

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAPIClientFlow(t *testing.T) {
	var loginRequests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/Login/":
			loginRequests++
			if r.Method != http.MethodPost {
				t.Fatalf("expected POST to /users/Login/, got %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			values, err := url.ParseQuery(string(body))
			if err != nil {
				t.Fatalf("parse login form: %v", err)
			}
			if values.Get("Email") != "user@example.com" {
				t.Fatalf("unexpected email %q", values.Get("Email"))
			}
			password := values.Get("Password")
			if password == "" || strings.Contains(password, "+") {
				t.Fatalf("password param must be a plus-free encoding, got %q", password)
			}
			if _, err := base64.StdEncoding.DecodeString(password); err != nil {
				t.Fatalf("password param is not base64: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Status":"1","Alert":"","Data":{"Token":"account-token"}}`)
			return
		case "/serialnumbers/getrobotdetailsbymusn/MU1234":
			if r.Header.Get("token") != "account-token" {
				t.Fatalf("missing account token header")
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Status":"1","Alert":"","Data":{"musn":"MU1234","eSERNUM":"ROB1","RobotName":"Dolphin","RobotFamily":"M700"}}`)
			return
		case "/IOT/getToken_DeviceName/MU1234":
			if r.Header.Get("token") != "account-token" {
				t.Fatalf("missing account token header")
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Status":"1","Alert":"","Data":{"AccessKeyId":"AKID","SecretAccessKey":"SECRET","Token":"SESSION"}}`)
			return
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
			return
		}
	}))
	defer server.Close()

	client := NewAPIClient("user@example.com", "hunter2", server.URL, zerolog.Nop())

	details, err := client.RobotDetails(context.Background(), "MU1234")
	if err != nil {
		t.Fatalf("robot details: %v", err)
	}
	if details.Serial != "ROB1" || !details.SupportsTemperature() {
		t.Fatalf("unexpected details: %+v", details)
	}

	creds, err := client.IoTCredentials(context.Background(), "MU1234")
	if err != nil {
		t.Fatalf("iot credentials: %v", err)
	}
	if creds.AccessKeyID != "AKID" || creds.SecretAccessKey != "SECRET" || creds.SessionToken != "SESSION" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if creds.IssuedFor != "MU1234" {
		t.Fatalf("credentials not tagged with motor unit: %+v", creds)
	}

	// Both calls share the cached token: exactly one login.
	if loginRequests != 1 {
		t.Fatalf("expected a single login, got %d", loginRequests)
	}
}

func TestAPIClientRejectedLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"Status":"0","Alert":"wrong password","Data":null}`)
	}))
	defer server.Close()

	client := NewAPIClient("user@example.com", "wrong", server.URL, zerolog.Nop())
	_, err := client.IoTCredentials(context.Background(), "MU1234")
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !strings.Contains(err.Error(), "wrong password") {
		t.Fatalf("expected backend alert in error, got %v", err)
	}
}

func TestAPIClientRetriesOnceOnExpiredToken(t *testing.T) {
	var logins, credCalls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/users/Login/":
			logins++
			_, _ = io.WriteString(w, `{"Status":"1","Alert":"","Data":{"Token":"token"}}`)
		case strings.HasPrefix(r.URL.Path, "/IOT/"):
			credCalls++
			if credCalls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"Status":"1","Alert":"","Data":{"AccessKeyId":"AKID","SecretAccessKey":"SECRET","Token":"SESSION"}}`)
		}
	}))
	defer server.Close()

	client := NewAPIClient("user@example.com", "hunter2", server.URL, zerolog.Nop())
	if _, err := client.IoTCredentials(context.Background(), "MU1"); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if logins != 2 || credCalls != 2 {
		t.Fatalf("expected re-login and one retry, got logins=%d credCalls=%d", logins, credCalls)
	}
}

func TestEncodeSecureParamPlusFree(t *testing.T) {
	for i := 0; i < 50; i++ {
		encoded, err := encodeSecureParam("s3cret-password", loginCipherKey)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if strings.Contains(encoded, "+") {
			t.Fatalf("encoding contains '+': %s", encoded)
		}
		if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
			t.Fatalf("encoding is not base64: %v", err)
		}
	}
}
