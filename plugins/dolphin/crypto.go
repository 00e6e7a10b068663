package dolphin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}

func aesCbcEncrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

const maxEncodeAttempts = 32

// encodeSecureParam encrypts a request parameter and base64-encodes iv||ciphertext.
// The login endpoint mangles '+' in form values, so encryption is retried with a
// fresh IV until the encoding is plus-free. Bounded; practically one or two rounds.
func encodeSecureParam(plaintext string, key []byte) (string, error) {
	for attempt := 0; attempt < maxEncodeAttempts; attempt++ {
		iv := make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return "", err
		}
		ciphertext, err := aesCbcEncrypt([]byte(plaintext), key, iv)
		if err != nil {
			return "", err
		}
		encoded := base64.StdEncoding.EncodeToString(append(iv, ciphertext...))
		if !strings.Contains(encoded, "+") {
			return encoded, nil
		}
	}
	return "", errors.New("could not produce a plus-free encoding")
}
