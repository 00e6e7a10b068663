package dolphin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/poolhome/poolhome/internal/rate"
)

const defaultBaseURL = "https://mbapp18.maytronics.com/api"

// loginCipherKey keys the block cipher that encodes the password form value.
// Shared with the mobile app; the backend rejects plaintext passwords.
var loginCipherKey = []byte("ct4yzmuvhC6sTRmM")

// ErrAuthFailed marks a rejected login or an expired account token.
var ErrAuthFailed = errors.New("maytronics authentication failed")

// APIClient talks to the Maytronics application backend. It covers only the
// three plain request/response calls the supervisor needs: account login,
// robot metadata, and the temporary IoT credential exchange.
type APIClient struct {
	email      string
	password   string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	mu    sync.Mutex
	token string
}

// RobotDetails is the robot metadata keyed by motor-unit serial.
type RobotDetails struct {
	MotorUnitSerial string `json:"musn"`
	Serial          string `json:"eSERNUM"`
	Name            string `json:"RobotName"`
	Family          string `json:"RobotFamily"`
}

// temperatureFamilies lists robot families with a water temperature sensor.
var temperatureFamilies = map[string]bool{
	"M600": true,
	"M700": true,
}

// SupportsTemperature reports whether the robot family carries a water
// temperature sensor reachable over the dynamic topic.
func (r RobotDetails) SupportsTemperature() bool {
	return temperatureFamilies[strings.ToUpper(r.Family)]
}

func NewAPIClient(email, password, baseURL string, log zerolog.Logger) *APIClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &APIClient{
		email:    email,
		password: password,
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpClient: rate.WrapHTTP(
			rate.Provider("maytronics").
				MaxRequestsPer(rate.Minute, 30).
				MaxRequestsPer(rate.Day, 5000),
			&http.Client{Timeout: 15 * time.Second},
		),
		log: log,
	}
}

// apiEnvelope is the common response wrapper: Status "1" means success and
// Alert carries the backend's error text otherwise.
type apiEnvelope struct {
	Status string          `json:"Status"`
	Alert  string          `json:"Alert"`
	Data   json.RawMessage `json:"Data"`
}

// Login authenticates the account and caches the bearer token. The password
// travels as an AES-encoded form value; see encodeSecureParam.
func (c *APIClient) Login(ctx context.Context) error {
	encoded, err := encodeSecureParam(c.password, loginCipherKey)
	if err != nil {
		return fmt.Errorf("encode password: %w", err)
	}

	form := url.Values{}
	form.Set("Email", c.email)
	form.Set("Password", encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/Login/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var data struct {
		Token string `json:"Token"`
	}
	if err := c.do(req, &data); err != nil {
		return err
	}
	if data.Token == "" {
		return fmt.Errorf("%w: login returned no token", ErrAuthFailed)
	}

	c.mu.Lock()
	c.token = data.Token
	c.mu.Unlock()
	c.log.Debug().Str("email", c.email).Msg("maytronics login ok")
	return nil
}

// RobotDetails fetches metadata for the robot behind a motor-unit serial.
func (c *APIClient) RobotDetails(ctx context.Context, motorUnitSerial string) (RobotDetails, error) {
	var details RobotDetails
	err := c.authorized(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/serialnumbers/getrobotdetailsbymusn/"+url.PathEscape(motorUnitSerial), nil)
		if err != nil {
			return err
		}
		req.Header.Set("token", token)
		return c.do(req, &details)
	})
	if err != nil {
		return RobotDetails{}, err
	}
	if details.MotorUnitSerial == "" {
		details.MotorUnitSerial = motorUnitSerial
	}
	return details, nil
}

// IoTCredentials exchanges the account token for temporary device-gateway
// keys scoped to one motor unit. Implements CredentialSource.
func (c *APIClient) IoTCredentials(ctx context.Context, motorUnitSerial string) (Credentials, error) {
	var data struct {
		AccessKeyID     string `json:"AccessKeyId"`
		SecretAccessKey string `json:"SecretAccessKey"`
		SessionToken    string `json:"Token"`
	}
	err := c.authorized(ctx, func(token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/IOT/getToken_DeviceName/"+url.PathEscape(motorUnitSerial), nil)
		if err != nil {
			return err
		}
		req.Header.Set("token", token)
		return c.do(req, &data)
	})
	if err != nil {
		return Credentials{}, err
	}
	if data.AccessKeyID == "" || data.SecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: credential exchange returned empty keys", ErrAuthFailed)
	}
	return Credentials{
		AccessKeyID:     data.AccessKeyID,
		SecretAccessKey: data.SecretAccessKey,
		SessionToken:    data.SessionToken,
		IssuedFor:       motorUnitSerial,
	}, nil
}

// authorized runs call with a valid token, logging in first when none is
// cached and retrying once after an auth rejection.
func (c *APIClient) authorized(ctx context.Context, call func(token string) error) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	err := call(token)
	if !errors.Is(err, ErrAuthFailed) {
		return err
	}

	c.log.Debug().Msg("account token rejected, re-logging in")
	if err := c.Login(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return call(token)
}

func (c *APIClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("maytronics request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("maytronics request %s: status %d", req.URL.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse response %s: %w", req.URL.Path, err)
	}
	if envelope.Status != "1" {
		if envelope.Alert != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, envelope.Alert)
		}
		return fmt.Errorf("maytronics request %s: status %q", req.URL.Path, envelope.Status)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("parse response data %s: %w", req.URL.Path, err)
	}
	return nil
}
