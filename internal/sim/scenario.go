package sim

import (
	"fmt"
	"math/rand"
	"time"
)

// Attempt is one action the simulated agent tries against the API.
type Attempt struct {
	Code     string
	Mode     string
	HighRisk bool
	Params   map[string]any
}

// Scenario describes the traffic mix one simulated tenant produces.
type Scenario struct {
	Name    string
	Tenant  string
	Tags    []string
	Fields  []string
	LeadIDs []string
}

// AgencyDayScenario models a small marketing agency's daily agent workload:
// mostly routine follow-ups and tagging, with the occasional schema change
// that needs human consent.
func AgencyDayScenario() Scenario {
	leadIDs := make([]string, 0, 40)
	for i := 1; i <= 40; i++ {
		leadIDs = append(leadIDs, fmt.Sprintf("lead_%d", i))
	}
	return Scenario{
		Name:    "AgencyDay",
		Tenant:  "acme",
		Tags:    []string{"vip", "cold", "newsletter", "q3-campaign"},
		Fields:  []string{"Score", "Segment", "LastCall"},
		LeadIDs: leadIDs,
	}
}

// Generator produces a stream of attempts from a scenario.
type Generator struct {
	scenario Scenario
	rnd      *rand.Rand
}

func NewGenerator(seed int64) Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return Generator{scenario: AgencyDayScenario(), rnd: rand.New(rand.NewSource(seed))}
}

func (g Generator) Tenant() string {
	return g.scenario.Tenant
}

// NextAttempt draws one weighted action. Roughly one attempt in ten is a
// high-risk operation so the consent path gets exercised without dominating
// the run.
func (g Generator) NextAttempt() Attempt {
	roll := g.rnd.Intn(100)
	switch {
	case roll < 40:
		return Attempt{
			Code: "relance-j3",
			Params: map[string]any{
				"template": "followup-default",
			},
		}
	case roll < 70:
		return Attempt{
			Code: "bulk-tag",
			Params: map[string]any{
				"tag":      g.pick(g.scenario.Tags),
				"lead_ids": g.pickLeads(1 + g.rnd.Intn(5)),
			},
		}
	case roll < 90:
		return Attempt{
			Code: "send-followup",
			Params: map[string]any{
				"lead_id":  g.pick(g.scenario.LeadIDs),
				"template": "followup-default",
			},
		}
	case roll < 95:
		return Attempt{
			Code:     "create_custom_field",
			HighRisk: true,
			Params: map[string]any{
				"name": g.pick(g.scenario.Fields),
				"kind": "text",
			},
		}
	default:
		return Attempt{
			Code:     "bulk_delete_tags",
			HighRisk: true,
			Params: map[string]any{
				"tag": g.pick(g.scenario.Tags),
			},
		}
	}
}

func (g Generator) pick(values []string) string {
	return values[g.rnd.Intn(len(values))]
}

func (g Generator) pickLeads(n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.pick(g.scenario.LeadIDs))
	}
	return out
}
