package action

import (
	"strings"

	"github.com/bitter-oolong/telepage/pkg/errs"
)

// Tokens are the opaque strings embedded in rendered buttons. They carry
// enough to dispatch the action later without re-deriving it:
//
//	page:<page-id>           navigate straight to a page
//	btn:<page-id>:<button-id> dispatch the button's action
const (
	tokenPagePrefix   = "page:"
	tokenButtonPrefix = "btn:"
)

// PageToken encodes a direct navigation target.
func PageToken(pageID string) string {
	return tokenPagePrefix + pageID
}

// ButtonToken encodes a button press.
func ButtonToken(pageID, buttonID string) string {
	return tokenButtonPrefix + pageID + ":" + buttonID
}

// Token is a decoded navigation or button token.
type Token struct {
	PageID   string
	ButtonID string // empty for page tokens
}

// IsPage reports whether the token navigates directly to a page.
func (t Token) IsPage() bool {
	return t.ButtonID == ""
}

// ParseToken decodes a token produced by PageToken or ButtonToken.
func ParseToken(raw string) (Token, error) {
	switch {
	case strings.HasPrefix(raw, tokenPagePrefix):
		id := raw[len(tokenPagePrefix):]
		if id == "" {
			return Token{}, errs.Validationf("empty page token.")
		}
		return Token{PageID: id}, nil
	case strings.HasPrefix(raw, tokenButtonPrefix):
		rest := raw[len(tokenButtonPrefix):]
		pageID, buttonID, ok := strings.Cut(rest, ":")
		if !ok || pageID == "" || buttonID == "" {
			return Token{}, errs.Validationf("malformed button token %q.", raw)
		}
		return Token{PageID: pageID, ButtonID: buttonID}, nil
	default:
		return Token{}, errs.Validationf("unrecognized token %q.", raw)
	}
}
