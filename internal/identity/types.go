package identity

import (
	"errors"
	"fmt"
)

// Lookup is what is known about a (lang, title) pair. When Exists is false
// every other field is empty. Concepts are compared by identity id only.
type Lookup struct {
	Exists                  bool   `json:"exists"`
	RedirectTarget          string `json:"redirect_target,omitempty"`
	IdentityID              string `json:"identity_id,omitempty"`
	RedirectIdentityID      string `json:"redirect_identity_id,omitempty"`
	LocalEquivalent         string `json:"local_equivalent,omitempty"`
	RedirectLocalEquivalent string `json:"redirect_local_equivalent,omitempty"`
}

func (l Lookup) IsRedirect() bool {
	return l.RedirectTarget != ""
}

// HasIdentity reports whether the page or its redirect target is registered.
func (l Lookup) HasIdentity() bool {
	return l.IdentityID != "" || l.RedirectIdentityID != ""
}

// Identities lists the non-empty ids: own first, then the redirect target's.
func (l Lookup) Identities() []string {
	ret := make([]string, 0, 2)
	if l.IdentityID != "" {
		ret = append(ret, l.IdentityID)
	}
	if l.RedirectIdentityID != "" && l.RedirectIdentityID != l.IdentityID {
		ret = append(ret, l.RedirectIdentityID)
	}
	return ret
}

func (l Lookup) normalized() Lookup {
	if !l.Exists {
		return Lookup{}
	}
	return l
}

// Key addresses one cache entry.
type Key struct {
	Lang  string
	Title string
}

func (k Key) String() string {
	return k.Lang + ":" + k.Title
}

// InvalidTitleError is returned for titles no page can carry. It is an
// input error, never a "page not found".
type InvalidTitleError struct {
	Lang   string
	Title  string
	Reason error
}

func (e *InvalidTitleError) Error() string {
	return fmt.Sprintf("invalid title %q on %s: %v", e.Title, e.Lang, e.Reason)
}

func (e *InvalidTitleError) Unwrap() error {
	return e.Reason
}

func IsInvalidTitle(err error) bool {
	var target *InvalidTitleError
	return errors.As(err, &target)
}
