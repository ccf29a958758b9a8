// Package classify decides what an observed network request means for the
// sync engine. Classification is a pure function of URL and HTTP method: no
// state, no I/O, never panics on garbage input.
package classify

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind tags the domain meaning of an observed request.
type Kind int

const (
	// Unclassified is the normal no-op outcome, not an error.
	Unclassified Kind = iota
	// ProjectNavigated is a load of the canonical project page.
	ProjectNavigated
	// DocsFetched is a GET of a project's docs collection or item.
	DocsFetched
	// DocumentCreated is a POST to a project's docs collection.
	DocumentCreated
	// DocumentDeleted is a DELETE of a docs item.
	DocumentDeleted
	// ContextSignal carries org/project ids from an unrelated product
	// endpoint; it exists only to refresh the active context.
	ContextSignal
)

func (k Kind) String() string {
	switch k {
	case ProjectNavigated:
		return "project_navigated"
	case DocsFetched:
		return "docs_fetched"
	case DocumentCreated:
		return "document_created"
	case DocumentDeleted:
		return "document_deleted"
	case ContextSignal:
		return "context_signal"
	default:
		return "unclassified"
	}
}

// Event is the classification result. Immutable; constructed once per
// observed request. Id fields are empty when the matched shape lacks them.
type Event struct {
	Kind           Kind
	OrganizationID string
	ProjectID      string
	DocumentID     string
	// ProjectURL is the canonical project page URL, set for ProjectNavigated.
	ProjectURL string
}

// Classifier holds the compiled pattern registry for one product host.
// Rules are evaluated in fixed priority order, first match wins:
// project page, docs shape, generic org/project shape.
type Classifier struct {
	host        string
	marker      string
	projectPage *regexp.Regexp
	docsShape   *regexp.Regexp
	orgProject  *regexp.Regexp
}

// New compiles the registry for the given application host and marker token.
func New(host, marker string) *Classifier {
	quoted := regexp.QuoteMeta(host)
	return &Classifier{
		host:   host,
		marker: marker,
		// Path segments are case-sensitive; anything after the captured id is tolerated.
		projectPage: regexp.MustCompile(`^https?://` + quoted + `/project/([^/?#]+)`),
		docsShape:   regexp.MustCompile(`/organizations/([^/?#]+)/projects/([^/?#]+)/docs(?:/([^/?#]+))?(?:[/?#]|$)`),
		orgProject:  regexp.MustCompile(`/organizations/([^/?#]+)/projects/([^/?#]+)(?:[/?#]|$)`),
	}
}

// Classify maps an observed URL and method to a domain event. URLs without
// the product marker token short-circuit to Unclassified before any regex
// runs; malformed URLs classify as Unclassified and never throw.
func (c *Classifier) Classify(rawURL, method string) Event {
	if rawURL == "" || !strings.Contains(rawURL, c.marker) {
		return Event{}
	}
	if _, err := url.Parse(rawURL); err != nil {
		return Event{}
	}

	if m := c.projectPage.FindStringSubmatch(rawURL); m != nil {
		return Event{
			Kind:       ProjectNavigated,
			ProjectID:  m[1],
			ProjectURL: c.canonicalProjectURL(rawURL, m[1]),
		}
	}

	if m := c.docsShape.FindStringSubmatch(rawURL); m != nil {
		ev := Event{OrganizationID: m[1], ProjectID: m[2], DocumentID: m[3]}
		switch strings.ToUpper(method) {
		case "GET":
			ev.Kind = DocsFetched
		case "POST":
			if ev.DocumentID == "" {
				ev.Kind = DocumentCreated
			} else {
				ev.Kind = ContextSignal
			}
		case "DELETE":
			if ev.DocumentID != "" {
				ev.Kind = DocumentDeleted
			} else {
				ev.Kind = ContextSignal
			}
		default:
			ev.Kind = ContextSignal
		}
		return ev
	}

	if m := c.orgProject.FindStringSubmatch(rawURL); m != nil {
		return Event{Kind: ContextSignal, OrganizationID: m[1], ProjectID: m[2]}
	}

	return Event{}
}

// IsProductHost reports whether rawURL points at the product's application host.
func (c *Classifier) IsProductHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Host == c.host
}

// CanonicalProjectURL normalizes a project page URL to scheme://host/project/{id},
// dropping query, fragment, and trailing segments. The second return is false
// when rawURL is not a project page.
func (c *Classifier) CanonicalProjectURL(rawURL string) (string, bool) {
	m := c.projectPage.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return c.canonicalProjectURL(rawURL, m[1]), true
}

// IsProjectPage reports whether rawURL matches the canonical project page shape.
func (c *Classifier) IsProjectPage(rawURL string) bool {
	return c.projectPage.MatchString(rawURL)
}

func (c *Classifier) canonicalProjectURL(rawURL, projectID string) string {
	scheme := "https"
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/project/%s", scheme, c.host, projectID)
}
