package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/briefcast-io/calsync/internal/provider"
	"gopkg.in/yaml.v3"
)

// Classification is the relevance verdict for one calendar event.
type Classification struct {
	Relevant      bool
	MatchedEmails []string
}

// Classifier decides whether a calendar event involves an analyst
// relationship. Implementations are heuristics; the sync engine treats the
// verdict as opaque.
type Classifier interface {
	Classify(ev *provider.Event) Classification
}

// ClassifierRule is one named set of analyst-firm matching criteria, loaded
// from a YAML file at startup.
type ClassifierRule struct {
	Name     string   `yaml:"name"`
	Domains  []string `yaml:"domains"`
	Keywords []string `yaml:"keywords"`
}

// DefaultRules cover the major analyst firms. Used when no rule directory is
// configured.
func DefaultRules() []ClassifierRule {
	return []ClassifierRule{
		{
			Name:     "analyst-firms",
			Domains:  []string{"gartner.com", "forrester.com", "idc.com", "451research.com", "constellationr.com"},
			Keywords: []string{"analyst briefing", "industry analyst", "analyst inquiry"},
		},
	}
}

// LoadRules reads classifier rules from *.yaml files in dir, one rule per
// file. A missing directory yields zero rules, matching how aggregation-style
// rule dirs behave elsewhere in the stack.
func LoadRules(dir string) ([]ClassifierRule, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("classifier rule dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("classifier rule path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading classifier rule dir: %w", err)
	}

	var rules []ClassifierRule
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var rule ClassifierRule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if rule.Name == "" {
			continue // skip empty / comment-only files
		}
		if len(rule.Domains) == 0 && len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("rule %q: at least one domain or keyword is required", rule.Name)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", rule.Name)
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// RuleClassifier matches attendee email domains and summary keywords against
// the loaded rules.
type RuleClassifier struct {
	domains  []string
	keywords []string
}

func NewRuleClassifier(rules []ClassifierRule) *RuleClassifier {
	c := &RuleClassifier{}
	for _, rule := range rules {
		for _, d := range rule.Domains {
			c.domains = append(c.domains, strings.ToLower(strings.TrimPrefix(d, "@")))
		}
		for _, k := range rule.Keywords {
			c.keywords = append(c.keywords, strings.ToLower(k))
		}
	}
	return c
}

func (c *RuleClassifier) Classify(ev *provider.Event) Classification {
	var matched []string
	for _, attendee := range ev.Attendees {
		addr := strings.ToLower(attendee)
		at := strings.LastIndex(addr, "@")
		if at < 0 {
			continue
		}
		domain := addr[at+1:]
		for _, d := range c.domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				matched = append(matched, attendee)
				break
			}
		}
	}
	if len(matched) > 0 {
		return Classification{Relevant: true, MatchedEmails: matched}
	}

	summary := strings.ToLower(ev.Summary)
	for _, k := range c.keywords {
		if strings.Contains(summary, k) {
			return Classification{Relevant: true}
		}
	}
	return Classification{}
}
