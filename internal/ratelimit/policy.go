package ratelimit

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"reqshield/internal/models"
)

// EndpointClass is the static category of a route. It selects the limiter
// policy that governs requests to that route.
type EndpointClass string

const (
	ClassAuth       EndpointClass = models.ClassAuth
	ClassUpload     EndpointClass = models.ClassUpload
	ClassAIAnalysis EndpointClass = models.ClassAIAnalysis
	ClassGeneral    EndpointClass = models.ClassGeneral
	ClassExempt     EndpointClass = models.ClassExempt
)

// Classes lists the classes that carry a limiter, in reporting order.
var Classes = []EndpointClass{ClassAuth, ClassUpload, ClassAIAnalysis, ClassGeneral}

// Route binds a path prefix to a class.
type Route struct {
	Prefix string
	Class  EndpointClass
}

// Router maps request paths to endpoint classes. The longest matching prefix
// wins; other paths under the API prefix are general, everything else is exempt.
type Router struct {
	apiPrefix string
	routes    []Route
}

// NewRouter creates a router from a static route table.
func NewRouter(apiPrefix string, routes []Route) *Router {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	for i := range sorted {
		sorted[i].Prefix = strings.TrimSuffix(sorted[i].Prefix, "/")
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Router{
		apiPrefix: strings.TrimSuffix(apiPrefix, "/"),
		routes:    sorted,
	}
}

// Classify returns the class of path.
func (rt *Router) Classify(path string) EndpointClass {
	for _, route := range rt.routes {
		if matchPrefix(path, route.Prefix) {
			return route.Class
		}
	}
	if matchPrefix(path, rt.apiPrefix) {
		return ClassGeneral
	}
	return ClassExempt
}

// matchPrefix matches whole path segments, so /api/login matches
// /api/login/otp but not /api/loginx.
func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// ClassPolicy is the limiter configuration of one class.
type ClassPolicy struct {
	Window       time.Duration
	MaxRequests  int
	BucketSize   int
	RefillRate   float64
	PenaltyBase  time.Duration // Zero disables progressive penalties for the class
	IncreaseStep int
	DecreaseStep int
	MaxIncrease  int
}

// Policy is the complete, static engine configuration.
type Policy struct {
	APIPrefix          string
	Routes             []Route
	Auth               ClassPolicy
	Upload             ClassPolicy
	AIAnalysis         ClassPolicy
	General            ClassPolicy
	ViolationThreshold int
	QuarantineDuration time.Duration
	ViolationDecay     time.Duration
	PenaltyCap         int
	SweepInterval      time.Duration // Zero disables the background sweep
	IdleTTL            time.Duration
	Allowlist          []netip.Prefix
}

// DefaultPolicy returns the policy described by models.NewDefaultDefenseConfig.
func DefaultPolicy() Policy {
	p, err := PolicyFromConfig(models.NewDefaultDefenseConfig())
	if err != nil {
		panic(fmt.Sprintf("default defense policy is invalid: %v", err))
	}
	return p
}

// PolicyFromConfig converts a validated configuration section into a Policy.
func PolicyFromConfig(cfg models.DefenseConfig) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return Policy{}, err
	}

	p := Policy{
		APIPrefix:          cfg.APIPrefix,
		Auth:               classPolicy(cfg.Auth),
		Upload:             classPolicy(cfg.Upload),
		AIAnalysis:         classPolicy(cfg.AIAnalysis),
		General:            classPolicy(cfg.General),
		ViolationThreshold: cfg.ViolationThreshold,
		QuarantineDuration: cfg.QuarantineDuration,
		ViolationDecay:     cfg.ViolationDecay,
		PenaltyCap:         cfg.PenaltyCap,
		SweepInterval:      cfg.SweepInterval,
		IdleTTL:            cfg.IdleTTL,
	}

	for _, r := range cfg.Routes {
		p.Routes = append(p.Routes, Route{Prefix: r.Prefix, Class: EndpointClass(r.Class)})
	}

	for _, entry := range cfg.Allowlist {
		prefix, err := models.ParseAllowlistEntry(entry)
		if err != nil {
			return Policy{}, err
		}
		p.Allowlist = append(p.Allowlist, prefix)
	}

	return p, nil
}

func classPolicy(c models.ClassConfig) ClassPolicy {
	return ClassPolicy{
		Window:       c.Window,
		MaxRequests:  c.MaxRequests,
		BucketSize:   c.BucketSize,
		RefillRate:   c.RefillRate,
		PenaltyBase:  c.PenaltyBase,
		IncreaseStep: c.IncreaseStep,
		DecreaseStep: c.DecreaseStep,
		MaxIncrease:  c.MaxIncrease,
	}
}

// Validate rejects policies the engine cannot run.
func (p Policy) Validate() error {
	for _, class := range Classes {
		cp := p.For(class)
		if cp.Window <= 0 {
			return fmt.Errorf("%s: window must be positive", class)
		}
	}
	if p.Upload.BucketSize <= 0 || p.Upload.RefillRate <= 0 {
		return errors.New("upload: bucket size and refill rate must be positive")
	}
	if p.ViolationThreshold <= 0 {
		return errors.New("violation threshold must be positive")
	}
	if p.QuarantineDuration <= 0 || p.ViolationDecay <= 0 {
		return errors.New("quarantine duration and violation decay must be positive")
	}
	if p.PenaltyCap <= 0 {
		return errors.New("penalty cap must be positive")
	}
	return nil
}

// For returns the class policy of class. Exempt and unknown classes get the
// zero policy.
func (p Policy) For(class EndpointClass) ClassPolicy {
	switch class {
	case ClassAuth:
		return p.Auth
	case ClassUpload:
		return p.Upload
	case ClassAIAnalysis:
		return p.AIAnalysis
	case ClassGeneral:
		return p.General
	default:
		return ClassPolicy{}
	}
}

func (p Policy) adaptiveParams() AdaptiveParams {
	return AdaptiveParams{
		BaseMax:      p.AIAnalysis.MaxRequests,
		Window:       p.AIAnalysis.Window,
		IncreaseStep: p.AIAnalysis.IncreaseStep,
		DecreaseStep: p.AIAnalysis.DecreaseStep,
		MaxIncrease:  p.AIAnalysis.MaxIncrease,
	}
}
