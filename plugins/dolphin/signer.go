package dolphin

import (
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	signingService   = "iotdevicegateway"
	signingScheme    = "wss"
	signingPath      = "/mqtt"
)

// Sign produces a presigned WebSocket connect URL for the IoT device gateway.
// Deterministic for a fixed now; no side effects.
//
// The session token is deliberately excluded from the signed query string and
// appended only after X-Amz-Signature. The device gateway verifies signatures
// computed over the four signing parameters alone; including the token breaks
// verification.
func Sign(endpoint, region string, creds Credentials, now time.Time) string {
	now = now.UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	scope := dateStamp + "/" + region + "/" + signingService + "/aws4_request"
	query := "X-Amz-Algorithm=" + signingAlgorithm +
		"&X-Amz-Credential=" + url.QueryEscape(creds.AccessKeyID+"/"+scope) +
		"&X-Amz-Date=" + amzDate +
		"&X-Amz-SignedHeaders=host"

	canonicalRequest := strings.Join([]string{
		"GET",
		signingPath,
		query,
		"host:" + endpoint,
		"",
		"host",
		sha256Hex(nil),
	}, "\n")

	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	key := derivedSigningKey(creds.SecretAccessKey, dateStamp, region)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	signed := signingScheme + "://" + endpoint + signingPath + "?" + query + "&X-Amz-Signature=" + signature
	if creds.SessionToken != "" {
		signed += "&X-Amz-Security-Token=" + url.QueryEscape(creds.SessionToken)
	}
	return signed
}

func derivedSigningKey(secretKey, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(signingService))
	return hmacSHA256(kService, []byte("aws4_request"))
}
