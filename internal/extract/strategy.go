package extract

import (
	"regexp"
	"strings"

	"github.com/ibeckermayer/postpulse/internal/dom"
	"github.com/ibeckermayer/postpulse/internal/types"
)

// Field names one extracted value of a container.
type Field string

const (
	FieldText  Field = "text"
	FieldDate  Field = "date"
	FieldURL   Field = "url"
	FieldMedia Field = "media"
)

// CounterField is the Field name of a metric.
func CounterField(m types.Metric) Field {
	return Field(m)
}

// Reader reads the raw value of a located element.
type Reader func(n dom.Node) (string, error)

// Strategy is one locate-and-read attempt for a field.
type Strategy struct {
	ID string
	// Selector locates candidates below the container; empty means the
	// container itself. Every match is tried in document order.
	Selector string
	// TextContains, when set, skips candidates whose folded text contains
	// none of these fragments.
	TextContains []string
	// MinLen skips string values of MinLen runes or fewer.
	MinLen int
	// MaxLen skips string values longer than MaxLen runes, when set.
	MaxLen int
	Read   Reader
}

// Attempt records the outcome of one strategy on one container.
type Attempt struct {
	Field    Field
	Strategy string
	Value    any
	Matched  bool
	Err      error
}

// Trace is the list of attempts made while extracting a container.
type Trace []Attempt

// Winner returns the strategy that produced field's value, if any.
func (t Trace) Winner(f Field) (string, bool) {
	for _, a := range t {
		if a.Field == f && a.Matched {
			return a.Strategy, true
		}
	}
	return "", false
}

// Text reads the rendered text.
func Text(n dom.Node) (string, error) {
	return n.Text()
}

// Attr reads an attribute.
func Attr(name string) Reader {
	return func(n dom.Node) (string, error) {
		v, _, err := n.Attr(name)
		return v, err
	}
}

// ParentAttr reads an attribute of the parent element.
func ParentAttr(name string) Reader {
	return func(n dom.Node) (string, error) {
		p, err := n.Parent()
		if err != nil || p == nil {
			return "", err
		}
		v, _, err := p.Attr(name)
		return v, err
	}
}

// ParentLinkHref reads href from the parent element when it is an anchor.
func ParentLinkHref(n dom.Node) (string, error) {
	p, err := n.Parent()
	if err != nil || p == nil {
		return "", err
	}
	tag, err := p.TagName()
	if err != nil {
		return "", err
	}
	if tag != "a" {
		return "", nil
	}
	v, _, err := p.Attr("href")
	return v, err
}

// Exists reports any located element as present.
func Exists(dom.Node) (string, error) {
	return "true", nil
}

// FirstOf tries readers in order and returns the first non-empty value.
func FirstOf(readers ...Reader) Reader {
	return func(n dom.Node) (string, error) {
		for _, r := range readers {
			v, err := r(n)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(v) != "" {
				return v, nil
			}
		}
		return "", nil
	}
}

// Classifier inspects one scan candidate and reports which metric it shows
// and the raw text holding the number.
type Classifier func(n dom.Node) (metric types.Metric, raw string, ok bool, err error)

// Scan is a container-wide counter strategy: it visits every candidate and
// assigns the first classified value per metric that no earlier strategy
// resolved.
type Scan struct {
	ID       string
	Selector string
	Classify Classifier
}

// MetricKeyword maps folded markup fragments to a metric.
type MetricKeyword struct {
	Metric   types.Metric
	Keywords []string
}

// MetricKeywords is checked in order; the first entry whose keyword matches
// wins.
type MetricKeywords []MetricKeyword

// Match returns the first metric whose keywords appear in folded.
func (mk MetricKeywords) Match(folded string) (types.Metric, bool) {
	for _, e := range mk {
		for _, k := range e.Keywords {
			if strings.Contains(folded, k) {
				return e.Metric, true
			}
		}
	}
	return "", false
}

// LabelClassifier reads a button's aria-label or text, whichever is longer,
// and classifies it by keyword.
func LabelClassifier(kw MetricKeywords) Classifier {
	return func(n dom.Node) (types.Metric, string, bool, error) {
		label, _, err := n.Attr("aria-label")
		if err != nil {
			return "", "", false, err
		}
		text, err := n.Text()
		if err != nil {
			return "", "", false, err
		}
		raw := text
		if len(label) > len(text) {
			raw = label
		}
		m, ok := kw.Match(Fold(raw))
		return m, raw, ok, nil
	}
}

var numericLeafRe = regexp.MustCompile(`^\d[\d.,]*\s?[KkMm]?$`)

// LeafClassifier accepts elements whose whole text is a number and
// classifies them by the markup of their grandparent.
func LeafClassifier(kw MetricKeywords) Classifier {
	return func(n dom.Node) (types.Metric, string, bool, error) {
		text, err := n.Text()
		if err != nil {
			return "", "", false, err
		}
		text = strings.TrimSpace(text)
		if !numericLeafRe.MatchString(text) {
			return "", "", false, nil
		}
		anc := n
		for range 2 {
			p, err := anc.Parent()
			if err != nil {
				return "", "", false, err
			}
			if p == nil {
				break
			}
			anc = p
		}
		html, err := anc.OuterHTML()
		if err != nil {
			return "", "", false, err
		}
		m, ok := kw.Match(Fold(html))
		return m, text, ok, nil
	}
}
