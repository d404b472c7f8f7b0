package httpapi

import (
	"net/http"
	"strings"
)

// Authorizer gates the operator-only /work/* endpoints, generalizing
// original_source's App Engine cron header / dev_appserver / admin-user
// checks into concrete, testable rules.
type Authorizer struct {
	CronToken  string
	AdminToken string
	DevMode    bool
}

// Allow reports whether r is permitted to trigger an operator work endpoint.
func (a Authorizer) Allow(r *http.Request) bool {
	if a.DevMode {
		return true
	}
	if a.CronToken != "" && r.Header.Get("X-Hub-Cron-Token") == a.CronToken {
		return true
	}
	if a.AdminToken != "" {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, prefix) && strings.TrimPrefix(auth, prefix) == a.AdminToken {
			return true
		}
	}
	return false
}
