// Package directory holds the external identity collaborators: the LDAP/AD
// bind client used for credential verification.
package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"backend/internal/config"
	"backend/pkg/apperr"
)

// Authenticator verifies credentials against an external identity provider.
type Authenticator interface {
	// Authenticate returns the employee ID recorded for the account when
	// the credentials are valid.
	Authenticate(ctx context.Context, username, password string) (string, error)
}

// LDAPAuthenticator binds against Active Directory. Search-then-bind: a
// service account locates the user DN, then a second bind with the user's
// own credentials proves the password.
type LDAPAuthenticator struct {
	cfg config.LDAPConfig
}

func NewLDAPAuthenticator(cfg config.LDAPConfig) *LDAPAuthenticator {
	return &LDAPAuthenticator{cfg: cfg}
}

func (a *LDAPAuthenticator) Authenticate(_ context.Context, username, password string) (string, error) {
	if password == "" {
		// An empty password makes AD treat the bind as anonymous and succeed.
		return "", apperr.Unauthorized("invalid credentials")
	}

	conn, err := ldap.DialURL(a.cfg.URL)
	if err != nil {
		return "", apperr.Internal("directory service unreachable", err)
	}
	defer conn.Close()

	if err := conn.Bind(a.cfg.BindDN, a.cfg.BindPass); err != nil {
		return "", apperr.Internal("directory service bind failed", err)
	}

	searchReq := ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		fmt.Sprintf(a.cfg.UserFilter, ldap.EscapeFilter(username)),
		[]string{"dn", "employeeID", "mail"},
		nil,
	)

	result, err := conn.Search(searchReq)
	if err != nil {
		return "", apperr.Internal("directory search failed", err)
	}
	if len(result.Entries) != 1 {
		return "", apperr.Unauthorized("invalid credentials")
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		return "", apperr.Unauthorized("invalid credentials")
	}

	employeeID := entry.GetAttributeValue("employeeID")
	if employeeID == "" {
		return "", apperr.Unauthorized("account has no employee ID attribute")
	}
	return employeeID, nil
}
