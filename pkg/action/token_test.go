package action

import (
	"testing"

	"github.com/bitter-oolong/telepage/pkg/errs"
)

func TestParseToken(t *testing.T) {
	tok, err := ParseToken(PageToken("main"))
	if err != nil {
		t.Fatalf("page token failed: %v", err)
	}
	if !tok.IsPage() || tok.PageID != "main" {
		t.Fatalf("unexpected page token: %+v", tok)
	}

	tok, err = ParseToken(ButtonToken("faq", "btn_1a2b"))
	if err != nil {
		t.Fatalf("button token failed: %v", err)
	}
	if tok.IsPage() || tok.PageID != "faq" || tok.ButtonID != "btn_1a2b" {
		t.Fatalf("unexpected button token: %+v", tok)
	}
}

func TestParseTokenRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "page:", "btn:", "btn:only-page", "btn::id", "something-else"} {
		if _, err := ParseToken(raw); !errs.IsKind(err, errs.KindValidation) {
			t.Fatalf("token %q should be rejected, got: %v", raw, err)
		}
	}
}
