package main

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEsignSignatureRoundTrip(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"tenant_id":"t1","entry_id":"e1","status":"completed"}`)

	mac, err := computeEsignMAC(secret, "1767225600", http.MethodPost, body)
	if err != nil {
		t.Fatalf("computeEsignMAC: %v", err)
	}
	again, err := computeEsignMAC(secret, "1767225600", http.MethodPost, body)
	if err != nil {
		t.Fatalf("computeEsignMAC: %v", err)
	}
	if !bytes.Equal(mac, again) {
		t.Fatalf("mac not deterministic")
	}

	sig := base64.RawURLEncoding.EncodeToString(mac)
	if err := verifyEsignSignature(secret, "1767225600", http.MethodPost, body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestEsignSignatureTamper(t *testing.T) {
	secret := "webhook-secret"
	body := []byte(`{"tenant_id":"t1","entry_id":"e1","status":"completed"}`)
	mac, err := computeEsignMAC(secret, "1767225600", http.MethodPost, body)
	if err != nil {
		t.Fatalf("computeEsignMAC: %v", err)
	}
	sig := base64.RawURLEncoding.EncodeToString(mac)

	if err := verifyEsignSignature(secret, "1767225601", http.MethodPost, body, sig); err == nil {
		t.Fatalf("accepted signature with altered timestamp")
	}
	if err := verifyEsignSignature(secret, "1767225600", http.MethodPost, []byte(`{"status":"voided"}`), sig); err == nil {
		t.Fatalf("accepted signature with altered body")
	}
	if err := verifyEsignSignature("other-secret", "1767225600", http.MethodPost, body, sig); err == nil {
		t.Fatalf("accepted signature with wrong secret")
	}
	if err := verifyEsignSignature(secret, "1767225600", http.MethodPost, body, "%%%not-base64%%%"); err == nil {
		t.Fatalf("accepted malformed signature encoding")
	}
}

func TestComputeEsignMACRequiresSecret(t *testing.T) {
	if _, err := computeEsignMAC("", "1767225600", http.MethodPost, []byte("{}")); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := computeEsignMAC("s", "", http.MethodPost, []byte("{}")); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}

func TestEsignWebhookRequiresConfiguredSecret(t *testing.T) {
	api := &pipelineAPI{}
	req := httptest.NewRequest(http.MethodPost, "http://example.test/webhooks/esign", strings.NewReader("{}"))
	rec := httptest.NewRecorder()

	api.handleEsignWebhook(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
	if !strings.Contains(rec.Body.String(), "esign_not_configured") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestSignedEnvelopeStatuses(t *testing.T) {
	for _, status := range []string{"completed", "signed"} {
		if _, ok := signedEnvelopeStatuses[status]; !ok {
			t.Fatalf("status %q must flip the flag", status)
		}
	}
	for _, status := range []string{"voided", "declined", "sent"} {
		if _, ok := signedEnvelopeStatuses[status]; ok {
			t.Fatalf("status %q must not flip the flag", status)
		}
	}
}
