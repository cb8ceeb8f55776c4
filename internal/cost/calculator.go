// Package cost prices provider token usage and keeps per-provider totals.
package cost

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input" json:"input"`
	Output float64 `yaml:"output" mapstructure:"output" json:"output"`
}

// Rates maps model ids to prices. Models not listed cost nothing, which
// covers local backends.
type Rates map[string]ModelRate

// DefaultRates returns list prices for the default cloud models.
func DefaultRates() Rates {
	return Rates{
		"claude-sonnet-4-20250514":  {Input: 3.00, Output: 15.00},
		"claude-haiku-4-5-20251001": {Input: 0.80, Output: 4.00},
		"claude-opus-4-20250514":    {Input: 15.00, Output: 75.00},
		"gpt-4o":                    {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":               {Input: 0.15, Output: 0.60},
	}
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Chat computes the cost of one chat call. A dated model id falls back to
// the rate of its undated prefix ("gpt-4o-2024-08-06" uses "gpt-4o").
func (c *Calculator) Chat(model string, input, output int) float64 {
	rate, ok := c.rate(model)
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

func (c *Calculator) rate(model string) (ModelRate, bool) {
	if r, ok := c.rates[model]; ok {
		return r, true
	}
	best := ""
	for id := range c.rates {
		if strings.HasPrefix(model, id+"-") && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// Usage is the running total for one provider.
type Usage struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (u *Usage) add(o Usage) {
	u.Requests += o.Requests
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CostUSD += o.CostUSD
}

// Tracker accumulates usage per provider. It is safe for concurrent use.
type Tracker struct {
	calc *Calculator

	mu         sync.Mutex
	byProvider map[string]*Usage
}

// NewTracker returns an empty Tracker pricing calls with calc.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc, byProvider: make(map[string]*Usage)}
}

// Record adds one call. Nil token counts (backends that don't report usage)
// count as zero.
func (t *Tracker) Record(providerName, model string, input, output *int) {
	in, out := deref(input), deref(output)
	u := Usage{
		Requests:     1,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      t.calc.Chat(model, in, out),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.byProvider[providerName]
	if !ok {
		cur = &Usage{}
		t.byProvider[providerName] = cur
	}
	cur.add(u)
}

// Snapshot returns a copy of the per-provider totals with costs rounded to
// a micro-dollar.
func (t *Tracker) Snapshot() map[string]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Usage, len(t.byProvider))
	for name, u := range t.byProvider {
		c := *u
		c.CostUSD = roundMicro(c.CostUSD)
		out[name] = c
	}
	return out
}

// Total sums every provider.
func (t *Tracker) Total() Usage {
	snap := t.Snapshot()
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)

	var total Usage
	for _, n := range names {
		total.add(snap[n])
	}
	total.CostUSD = roundMicro(total.CostUSD)
	return total
}

// Reset clears all totals.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byProvider = make(map[string]*Usage)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func roundMicro(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
