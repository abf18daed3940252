package licence

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // the wire format is fixed: PKCS#1 v1.5 over SHA-1, not our choice to make.
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/altianls/seatserver/internal/xmltree"
)

// Verifier holds the server's one RSA public key, parsed once at startup
// per spec.md §5 ("cache the parsed key at startup... never re-read on the
// hot path") rather than reopening public_key.pem on every call the way
// the source service does.
type Verifier struct {
	pub *rsa.PublicKey
}

// NewVerifier parses a PEM-encoded RSA public key, accepting either a PKIX
// ("-----BEGIN PUBLIC KEY-----") or PKCS#1 ("-----BEGIN RSA PUBLIC KEY-----")
// encoding.
func NewVerifier(pemBytes []byte) (*Verifier, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("decode public key: no PEM block found")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
		return &Verifier{pub: rsaKey}, nil
	}

	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Verifier{pub: rsaKey}, nil
}

// Verify reports whether root's embedded Code signature is a valid
// PKCS#1 v1.5 (SHA-1) signature over the canonical form of root with Code
// emptied. Any cryptographic or decoding error yields false; it never
// panics or returns an error, matching spec.md §4.1's "never raises".
func (v *Verifier) Verify(root *xmltree.Element) bool {
	codeEl := root.Child("Code")
	if codeEl == nil {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(codeEl.Text))
	if err != nil {
		return false
	}

	digest := v.CanonicalDigest(root)

	if err := rsa.VerifyPKCS1v15(v.pub, crypto.SHA1, digest, signature); err != nil {
		return false
	}
	return true
}

// CanonicalDigest clones root, empties its Code element, canonicalises the
// clone per spec.md §4.1, and returns the SHA-1 digest of the resulting
// byte sequence. The clone means canonicalisation never mutates the tree
// the caller still holds (spec.md §9 "XML tree mutated in place").
func (v *Verifier) CanonicalDigest(root *xmltree.Element) []byte {
	clone := root.Clone()
	clone.SetChildText("Code", "")
	canonicalize(clone, 0)
	sum := sha1.Sum(xmltree.Serialize(clone)) //nolint:gosec // see import comment above
	return sum[:]
}

// canonicalize applies spec.md §4.1's pretty-print rules in place:
//   - CRLF line endings, two-space indent per nesting level.
//   - Non-leaf: text set to CRLF+(level+1) indents if currently blank;
//     recurse into every child at level+1; then the LAST child's tail
//     (not this element's own tail) is set to CRLF+(level-1) indents if
//     currently blank. That "last child's tail" rule, not "this element's
//     tail", is a deliberate port of the source's variable-shadowing
//     behaviour — see SPEC_FULL.md.
//   - Leaf at depth >= 1: tail set to CRLF+level indents if currently blank.
func canonicalize(e *xmltree.Element, level int) {
	const newline = "\r\n"
	if len(e.Children) > 0 {
		if strings.TrimSpace(e.Text) == "" {
			e.Text = newline + strings.Repeat("  ", level+1)
		}
		for _, c := range e.Children {
			canonicalize(c, level+1)
		}
		last := e.Children[len(e.Children)-1]
		if strings.TrimSpace(last.Tail) == "" {
			last.Tail = newline + strings.Repeat("  ", max(0, level-1))
		}
	} else if level > 0 && strings.TrimSpace(e.Tail) == "" {
		e.Tail = newline + strings.Repeat("  ", level)
	}
}
