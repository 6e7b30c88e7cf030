// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// VerifySignature checks a forge webhook signature header
// (X-Hub-Signature-256 style: "sha256=" plus lowercase hex of the
// HMAC-SHA256 of the body) against the shared secret.
//
// Error messages never include the expected signature.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("webhook secret not configured")
	}
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	if signature == "" {
		return errors.New("missing signature header")
	}

	hexDigest, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return fmt.Errorf("malformed signature header: missing sha256= prefix")
	}
	provided, err := hex.DecodeString(hexDigest)
	if err != nil {
		return fmt.Errorf("malformed signature header: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return errors.New("signature mismatch")
	}
	return nil
}
