package routerules

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Strategy names usable in rules.
const (
	CacheFirst           = "cache-first"
	NetworkFirst         = "network-first"
	StaleWhileRevalidate = "stale-while-revalidate"
	Bypass               = "bypass"
)

type Rules []Rule

// Rule overrides the built-in routing for matching GET requests.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Query    map[string]string `yaml:"query"`
	Strategy string            `yaml:"strategy"`
	Headers  map[string]string `yaml:"headers"`
}

// Validate checks that every rule names a known strategy.
func (r Rules) Validate() error {
	for i, rule := range r {
		switch rule.Strategy {
		case CacheFirst, NetworkFirst, StaleWhileRevalidate, Bypass:
		default:
			return fmt.Errorf("rule %d: unknown strategy %q", i, rule.Strategy)
		}
	}
	return nil
}

// Apply sets the rule headers on a response.
// Only successful responses are changed.
func (rule Rule) Apply(res *http.Response) {
	if res.StatusCode != http.StatusOK {
		return
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		res.Header.Set(name, value)
	}
}

// Find returns the first rule matching the request, or nil.
func (r Rules) Find(req *http.Request) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i := range r {
		rule := r[i]
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &rule
	}
	return nil
}
