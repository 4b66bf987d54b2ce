package cache

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridianweb/siteops/internal/auth"
	"github.com/meridianweb/siteops/internal/config"
	"github.com/meridianweb/siteops/internal/expr"
)

// Decision is the policy's verdict for one request.
type Decision struct {
	// Cacheable is true when the request may read from and write to the store.
	Cacheable bool
	// TTL is the entry lifetime selected by the matched route rule.
	TTL time.Duration
	// Route is the matched rule's path prefix, used as a metrics label.
	Route string
	// Reason explains a non-cacheable verdict for logging.
	Reason string
}

type compiledRule struct {
	prefix string
	ttl    time.Duration
	bypass *expr.Program
}

// Policy decides cache eligibility. All reads go through an RWMutex so the
// rules watcher can swap the rule set while requests are in flight.
type Policy struct {
	defaultTTL          time.Duration
	bypassAuthenticated bool
	privilegedRoles     map[string]struct{}
	env                 *expr.Environment
	logger              *slog.Logger

	mu    sync.RWMutex
	rules []compiledRule
}

// NewPolicy compiles the configured route rules into a policy. Rules are
// held longest-prefix-first so list and singular endpoints under a shared
// subtree never collide.
func NewPolicy(cfg config.CacheConfig, logger *slog.Logger) (*Policy, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cache: policy environment: %w", err)
	}
	roles := make(map[string]struct{}, len(cfg.PrivilegedRoles))
	for _, role := range cfg.PrivilegedRoles {
		roles[strings.ToLower(role)] = struct{}{}
	}
	p := &Policy{
		defaultTTL:          time.Duration(cfg.DefaultTTLSeconds) * time.Second,
		bypassAuthenticated: cfg.BypassAuthenticated,
		privilegedRoles:     roles,
		env:                 env,
		logger:              logger,
	}
	if err := p.Reload(cfg.Rules); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload recompiles and swaps the route rule set. Invoked at startup and by
// the rules file watcher; the swap is atomic with respect to Decide.
func (p *Policy) Reload(rules []config.CacheRuleConfig) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		cr := compiledRule{
			prefix: rule.PathPrefix,
			ttl:    rule.TTL(p.defaultTTL),
		}
		if strings.TrimSpace(rule.BypassWhen) != "" {
			program, err := p.env.Compile(rule.BypassWhen)
			if err != nil {
				return fmt.Errorf("cache: rule %s: %w", rule.PathPrefix, err)
			}
			cr.bypass = &program
		}
		compiled = append(compiled, cr)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return len(compiled[i].prefix) > len(compiled[j].prefix)
	})

	p.mu.Lock()
	p.rules = compiled
	p.mu.Unlock()
	return nil
}

// Decide applies the eligibility rule: GET only, matched route, no
// authenticated bypass, no privileged no-cache request, and no matching
// bypassWhen expression.
func (p *Policy) Decide(r *http.Request) Decision {
	if r.Method != http.MethodGet {
		return Decision{Reason: "method not cacheable"}
	}

	rule, ok := p.match(r.URL.Path)
	if !ok {
		return Decision{Reason: "route not configured"}
	}

	principal, authenticated := auth.FromContext(r.Context())
	if authenticated && p.bypassAuthenticated {
		return Decision{Route: rule.prefix, Reason: "authenticated principal"}
	}

	// The explicit no-cache signal is honored only for privileged callers so
	// anonymous traffic cannot cache-bust its way past the shared cache.
	if ParseRequestCacheControl(r.Header.Get("Cache-Control")).WantsBypass() {
		if authenticated && p.privileged(principal.Role) {
			return Decision{Route: rule.prefix, Reason: "privileged no-cache"}
		}
	}

	if rule.bypass != nil {
		matched, err := rule.bypass.EvalBool(activation(r, principal, authenticated))
		if err != nil {
			// An unevaluable expression must not turn into a cache-busting
			// vector; the request stays cacheable.
			if p.logger != nil {
				p.logger.Warn("bypass expression failed", slog.String("rule", rule.prefix), slog.Any("error", err))
			}
		} else if matched {
			return Decision{Route: rule.prefix, Reason: "bypass expression matched"}
		}
	}

	return Decision{Cacheable: true, TTL: rule.ttl, Route: rule.prefix}
}

func (p *Policy) match(path string) (compiledRule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rule := range p.rules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule, true
		}
	}
	return compiledRule{}, false
}

func (p *Policy) privileged(role string) bool {
	_, ok := p.privilegedRoles[strings.ToLower(role)]
	return ok
}

func activation(r *http.Request, principal auth.Principal, authenticated bool) map[string]any {
	query := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}
	return map[string]any{
		"method":        r.Method,
		"path":          r.URL.Path,
		"query":         query,
		"role":          principal.Role,
		"authenticated": authenticated,
	}
}
