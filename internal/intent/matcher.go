package intent

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// Matcher layer names reported in domain.Intent.Rule.
const (
	RuleTight     = "tight"
	RuleSeparated = "separated"
	RuleProximity = "proximity"
	RuleKeyword   = "keyword"
)

const (
	minOrderIDLen   = 4
	confTight       = 0.95
	confSeparated   = 0.9
	confProximity   = 0.8
	confKeywordOnly = 0.6
)

const (
	// separators allowed between a keyword and its ids
	sepExpr = `[\s,:;#.\-]*`
	// one or more digit runs joined by commas, spaces, slashes or "and"
	idsExpr = `(?P<ids>\d+(?:[\s,;/&]+(?:and\s+)?\d+)*)`
	// letter guard in place of \b so a digit counts as a boundary
	guardExpr = `(?:^|[^a-z])`
)

var digitRun = regexp.MustCompile(`\d+`)

type family struct {
	Family
	anywhere *regexp.Regexp
}

// layer is one compiled matching rule. fams holds the submatch index of each
// family group so the firing family can be read back from a match.
type layer struct {
	re   *regexp.Regexp
	fams []int
	ids  int
}

func compileLayer(expr string, n int) (layer, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return layer{}, err
	}
	l := layer{re: re, ids: re.SubexpIndex("ids"), fams: make([]int, n)}
	for i := range l.fams {
		l.fams[i] = re.SubexpIndex(fmt.Sprintf("f%d", i))
	}
	return l, nil
}

// find returns the family index, the raw ids text and the match start.
func (l layer) find(s string) (fam int, ids string, start int, ok bool) {
	loc := l.re.FindStringSubmatchIndex(s)
	if loc == nil {
		return 0, "", 0, false
	}
	fam = -1
	for i, g := range l.fams {
		if g > 0 && loc[2*g] >= 0 {
			fam = i
			break
		}
	}
	if fam < 0 {
		return 0, "", 0, false
	}
	if l.ids > 0 && loc[2*l.ids] >= 0 {
		ids = s[loc[2*l.ids]:loc[2*l.ids+1]]
	}
	return fam, ids, loc[0], true
}

// Matcher is the compiled keyword table. It is immutable and safe for
// concurrent use.
type Matcher struct {
	families      []family
	tightIDsFirst layer
	tightKWFirst  layer
	sepKWFirst    layer
	sepIDsFirst   layer
	keyword       layer
}

// NewMatcher compiles a keyword table.
func NewMatcher(table []Family) (*Matcher, error) {
	if len(table) == 0 {
		return nil, errors.New("intent: empty keyword table")
	}
	m := &Matcher{}
	alts := make([]string, 0, len(table))
	for i, f := range table {
		if f.Action == domain.ActionNone {
			return nil, fmt.Errorf("intent: family %q has no action", f.Name)
		}
		if len(f.Terms) == 0 {
			return nil, fmt.Errorf("intent: family %q has no terms", f.Name)
		}
		body := strings.Join(f.Terms, "|")
		re, err := regexp.Compile(guardExpr + `(?:` + body + `)`)
		if err != nil {
			return nil, fmt.Errorf("intent: family %q: %w", f.Name, err)
		}
		m.families = append(m.families, family{Family: f, anywhere: re})
		alts = append(alts, fmt.Sprintf(`(?P<f%d>%s)`, i, body))
	}
	kw := `(?:` + strings.Join(alts, "|") + `)`
	n := len(table)

	var err error
	if m.tightIDsFirst, err = compileLayer(`^#?(?P<ids>\d+)`+kw+`$`, n); err != nil {
		return nil, err
	}
	if m.tightKWFirst, err = compileLayer(`^`+kw+`#?(?P<ids>\d+)$`, n); err != nil {
		return nil, err
	}
	if m.sepKWFirst, err = compileLayer(guardExpr+kw+sepExpr+idsExpr, n); err != nil {
		return nil, err
	}
	if m.sepIDsFirst, err = compileLayer(idsExpr+sepExpr+kw, n); err != nil {
		return nil, err
	}
	if m.keyword, err = compileLayer(guardExpr+kw, n); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNewMatcher is like NewMatcher but panics on a malformed table.
func MustNewMatcher(table []Family) *Matcher {
	m, err := NewMatcher(table)
	if err != nil {
		panic(err)
	}
	return m
}

var defaultMatcher = MustNewMatcher(Families)

// Default returns the matcher compiled from Families.
func Default() *Matcher { return defaultMatcher }

// Match classifies raw text. Layers run from most to least specific and the
// first that fires decides the ids:
//
//   - tight: the whole message, whitespace removed, is one id glued to a keyword
//   - separated: a keyword adjacent to a list of ids, either order
//   - proximity: any keyword plus every digit run of at least four digits
//
// A keyword with no qualifying id still yields the action with no ids. The
// action is then promoted to the highest-priority family present anywhere in
// the message.
func (m *Matcher) Match(raw string) (domain.Intent, bool) {
	text := Normalize(raw)
	if text == "" {
		return domain.Intent{}, false
	}

	c := compact(text)
	for _, l := range []layer{m.tightIDsFirst, m.tightKWFirst} {
		if fam, ids, _, ok := l.find(c); ok {
			if got := OrderIDs(ids); len(got) == 1 {
				return m.intent(fam, got, text, confTight, RuleTight), true
			}
		}
	}

	best, bestFam, bestIDs := -1, 0, ""
	for _, l := range []layer{m.sepKWFirst, m.sepIDsFirst} {
		if fam, ids, start, ok := l.find(text); ok && (best < 0 || start < best) {
			best, bestFam, bestIDs = start, fam, ids
		}
	}
	if best >= 0 {
		if got := OrderIDs(bestIDs); len(got) > 0 {
			return m.intent(bestFam, got, text, confSeparated, RuleSeparated), true
		}
	}

	fam, _, _, ok := m.keyword.find(text)
	if !ok {
		return domain.Intent{}, false
	}
	if ids := OrderIDs(text); len(ids) > 0 {
		return m.intent(fam, ids, text, confProximity, RuleProximity), true
	}
	return m.intent(fam, nil, text, confKeywordOnly, RuleKeyword), true
}

func (m *Matcher) intent(fam int, ids []string, text string, conf float64, rule string) domain.Intent {
	return domain.Intent{
		Action:     m.resolve(m.families[fam].Action, text),
		OrderIDs:   ids,
		Confidence: conf,
		Source:     domain.SourceDeterministic,
		Rule:       rule,
	}
}

// Detect lists every action whose vocabulary appears in raw, highest
// priority first.
func (m *Matcher) Detect(raw string) []domain.Action {
	return m.detect(Normalize(raw))
}

func (m *Matcher) detect(text string) []domain.Action {
	var hits []family
	for _, f := range m.families {
		if f.anywhere.MatchString(text) {
			hits = append(hits, f)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Priority > hits[j].Priority })
	out := make([]domain.Action, 0, len(hits))
	for _, f := range hits {
		out = append(out, f.Action)
	}
	return out
}

// Resolve promotes a proposed action to the highest-priority action whose
// vocabulary appears in raw. It is applied to fallback classifier output too.
func (m *Matcher) Resolve(raw string, proposed domain.Action) domain.Action {
	return m.resolve(proposed, Normalize(raw))
}

func (m *Matcher) resolve(proposed domain.Action, text string) domain.Action {
	best, bestPrio := proposed, m.priority(proposed)
	for _, a := range m.detect(text) {
		if p := m.priority(a); p > bestPrio {
			best, bestPrio = a, p
		}
	}
	return best
}

func (m *Matcher) priority(a domain.Action) int {
	for _, f := range m.families {
		if f.Action == a {
			return f.Priority
		}
	}
	return -1
}

// OrderIDs extracts the digit runs of at least four digits from s, in order
// of first appearance and without duplicates.
func OrderIDs(s string) []string {
	runs := digitRun.FindAllString(s, -1)
	seen := make(map[string]struct{}, len(runs))
	var out []string
	for _, r := range runs {
		if len(r) < minOrderIDLen {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
