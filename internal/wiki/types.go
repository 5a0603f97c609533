package wiki

import (
	"errors"
	"fmt"
)

// ErrNoRecord means the registry has no identity record for the page.
var ErrNoRecord = errors.New("no identity record")

// Page is a page as fetched from one language edition. A redirect page
// carries its own text and the title it points to.
type Page struct {
	Lang           string
	Title          string
	Text           string
	Exists         bool
	IsRedirect     bool
	RedirectTarget string
}

// Record is an identity registry entry: the concept id and the title of its
// page in each language edition.
type Record struct {
	ID        string
	Sitelinks map[string]string
}

// SaveErrorCode classifies why an edit was refused.
type SaveErrorCode string

const (
	SaveEditConflict SaveErrorCode = "editconflict"
	SaveProtected    SaveErrorCode = "protectedpage"
	SaveSpamFilter   SaveErrorCode = "spamblacklist"
	SaveOther        SaveErrorCode = "other"
)

type SaveError struct {
	Code  SaveErrorCode
	Title string
	Info  string
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save [[%s]] refused (%s): %s", e.Title, e.Code, e.Info)
}

// APIError is an error object returned by the API itself.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}
