// Package useragent builds the User-Agent value stamped on every
// outbound query-service request, so server-side logs can attribute
// traffic to a build and entry point.
package useragent

import "fmt"

// Stamped at build time:
//
//	go build -ldflags "-X sdlq/internal/useragent.version=1.2.3 -X sdlq/internal/useragent.commit=abc1234"
var (
	version = "dev"
	commit  = "none"
)

// Version returns the build version, "dev" when unstamped.
func Version() string { return version }

// Commit returns the build commit, "none" when unstamped.
func Commit() string { return commit }

// String returns the User-Agent header value for a component, e.g.
// "sdlq/1.2.3 (cli)". An empty component drops the parenthetical.
func String(component string) string {
	if component == "" {
		return "sdlq/" + version
	}
	return fmt.Sprintf("sdlq/%s (%s)", version, component)
}
