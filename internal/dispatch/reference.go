package dispatch

import (
	"fmt"
	"net/url"
)

const referenceParam = "code"

// BuildReference appends the token to the invite base URL as ?code=<token>,
// keeping any query parameters the base already carries.
func BuildReference(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse invite base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invite base url %q must be absolute", base)
	}
	q := u.Query()
	q.Set(referenceParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
