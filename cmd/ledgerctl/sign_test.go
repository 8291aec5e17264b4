package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/punchamoorthee/tokenledger/internal/spoynt"
)

func runSignCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	signSecret, signFile, signURL = "", "-", ""
	var out bytes.Buffer
	signCmd.SetArgs(args)
	signCmd.SetIn(strings.NewReader(stdin))
	signCmd.SetOut(&out)
	signCmd.SetErr(io.Discard)
	err := signCmd.Execute()
	return out.String(), err
}

func TestSignPrintsSignature(t *testing.T) {
	out, err := runSignCmd(t, `{"a":1}`, "--secret", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "TVxQXuywu2niFOf7tUuTOxnO/Uc=\n" {
		t.Fatalf("got %q", out)
	}
}

func TestSignDeliversSignedPayload(t *testing.T) {
	payload := `{"data":{"id":"ext-1","attributes":{"status":"processed"}}}`
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotSig = string(b), r.Header.Get(spoynt.SignatureHeader)
		w.Write([]byte(`{"received":true,"outcome":"completed"}`))
	}))
	defer srv.Close()

	out, err := runSignCmd(t, payload, "--secret", "s3cret", "--url", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody != payload {
		t.Fatalf("body: got %q", gotBody)
	}
	if gotSig != spoynt.Sign("s3cret", []byte(payload)) {
		t.Fatalf("signature header: got %q", gotSig)
	}
	if !strings.Contains(out, "200 OK") {
		t.Fatalf("output: got %q", out)
	}
}

func TestSignReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := runSignCmd(t, `{}`, "--secret", "wrong", "--url", srv.URL); err == nil {
		t.Fatalf("expected an error for a 401 reply")
	}
}
