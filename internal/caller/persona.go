package caller

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Persona is the identity the synthetic caller keeps for a whole session, so
// repeated questions ("what was your name again?") get consistent answers.
type Persona struct {
	Name   string `yaml:"name"`
	Phone  string `yaml:"phone"`
	Email  string `yaml:"email"`
	City   string `yaml:"city"`
	Budget string `yaml:"budget"`
}

var (
	firstNames = []string{"Alex", "Jordan", "Sam", "Taylor", "Morgan", "Casey", "Riley", "Jamie", "Avery", "Quinn"}
	lastNames  = []string{"Miller", "Garcia", "Chen", "Okafor", "Novak", "Schmidt", "Patel", "Rossi", "Kim", "Larsen"}
	cities     = []string{"Denver", "Austin", "Portland", "Chicago", "Atlanta", "Phoenix", "Boston", "Seattle"}
	budgets    = []string{"around $500", "up to $1,000", "about $2,500", "under $200", "roughly $5,000"}
)

// NewPersona derives a persona from seed. Equal seeds give equal personas.
func NewPersona(seed uint64) Persona {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	first := firstNames[r.IntN(len(firstNames))]
	last := lastNames[r.IntN(len(lastNames))]
	return Persona{
		Name:   first + " " + last,
		Phone:  fmt.Sprintf("+1 555 %03d %04d", r.IntN(1000), r.IntN(10000)),
		Email:  strings.ToLower(first+"."+last) + "@example.com",
		City:   cities[r.IntN(len(cities))],
		Budget: budgets[r.IntN(len(budgets))],
	}
}

// Merge returns p with every empty field taken from fallback.
func (p Persona) Merge(fallback Persona) Persona {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return Persona{
		Name:   pick(p.Name, fallback.Name),
		Phone:  pick(p.Phone, fallback.Phone),
		Email:  pick(p.Email, fallback.Email),
		City:   pick(p.City, fallback.City),
		Budget: pick(p.Budget, fallback.Budget),
	}
}

// String renders the persona as prompt lines.
func (p Persona) String() string {
	var b strings.Builder
	for _, kv := range [][2]string{
		{"Name", p.Name}, {"Phone", p.Phone}, {"Email", p.Email}, {"City", p.City}, {"Budget", p.Budget},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "- %s: %s\n", kv[0], kv[1])
		}
	}
	return b.String()
}
