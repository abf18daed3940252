package licence

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/altianls/seatserver/internal/xmltree"
)

func mustGenerateKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, pubPEM
}

func sampleTree() *xmltree.Element {
	return TreeFromFields(Fields{
		Company:       "Acme Corp",
		Product:       "Widgets",
		Customer:      "Jane Doe",
		NumberOfSeats: 5,
		TimeStamp:     1700000000,
		Version:       "1",
	})
}

func signTree(t *testing.T, priv *rsa.PrivateKey, root *xmltree.Element) string {
	t.Helper()
	v := &Verifier{pub: &priv.PublicKey}
	digest := v.CanonicalDigest(root)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA1, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func TestVerifyAcceptsGenuineSignature(t *testing.T) {
	priv, pubPEM := mustGenerateKeyPair(t)
	root := sampleTree()
	root.SetChildText("Code", signTree(t, priv, root))

	v, err := NewVerifier(pubPEM)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if !v.Verify(root) {
		t.Fatal("expected genuine signature to verify")
	}
}

func TestVerifyRejectsTamperedField(t *testing.T) {
	priv, pubPEM := mustGenerateKeyPair(t)
	root := sampleTree()
	root.SetChildText("Code", signTree(t, priv, root))

	// Tamper with NumberOfSeats after signing, the same attack
	// tests/test_clsRSA.py in the original source exercises.
	root.SetChildText("NumberOfSeats", "500")

	v, err := NewVerifier(pubPEM)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Verify(root) {
		t.Fatal("expected tampered document to fail verification")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, _ := mustGenerateKeyPair(t)
	_, otherPubPEM := mustGenerateKeyPair(t)
	root := sampleTree()
	root.SetChildText("Code", signTree(t, priv, root))

	v, err := NewVerifier(otherPubPEM)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Verify(root) {
		t.Fatal("expected signature under a different key to fail verification")
	}
}

func TestVerifyMissingCodeElementFails(t *testing.T) {
	_, pubPEM := mustGenerateKeyPair(t)
	root := &xmltree.Element{Name: "Licence1"}
	v, err := NewVerifier(pubPEM)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Verify(root) {
		t.Fatal("expected missing Code element to fail verification")
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	root := sampleTree()
	root.SetChildText("Code", "")

	first := xmltree.Serialize(root.Clone())
	clone := root.Clone()
	canonicalize(clone, 0)
	second := xmltree.Serialize(clone)

	// Running canonicalisation twice on an already-canonical tree must be
	// a no-op: the only text/tail values it rewrites are whitespace-only,
	// and it rewrites each of them to the value it already holds.
	reCanon := clone.Clone()
	canonicalize(reCanon, 0)
	third := xmltree.Serialize(reCanon)

	if string(second) != string(third) {
		t.Fatalf("canonicalisation is not idempotent:\nfirst pass:  %q\nsecond pass: %q", second, third)
	}
	_ = first
}

func TestSelfClosingLeafElement(t *testing.T) {
	root := &xmltree.Element{Name: "Licence1", Children: []*xmltree.Element{
		{Name: "Code", Text: ""},
	}}
	canonicalize(root, 0)
	out := string(xmltree.Serialize(root))
	if want := "<Code />"; !strings.Contains(out, want) {
		t.Fatalf("expected self-closing Code element, got %q", out)
	}
}
