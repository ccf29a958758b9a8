package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestClassifier() *Classifier {
	return New("app.parchment.io", "parchment")
}

func TestClassify(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		name   string
		url    string
		method string
		want   Event
	}{
		{
			name:   "project page",
			url:    "https://app.parchment.io/project/proj-123",
			method: "GET",
			want: Event{
				Kind:       ProjectNavigated,
				ProjectID:  "proj-123",
				ProjectURL: "https://app.parchment.io/project/proj-123",
			},
		},
		{
			name:   "project page with trailing segments and query",
			url:    "https://app.parchment.io/project/proj-123/settings?tab=docs",
			method: "GET",
			want: Event{
				Kind:       ProjectNavigated,
				ProjectID:  "proj-123",
				ProjectURL: "https://app.parchment.io/project/proj-123",
			},
		},
		{
			name:   "docs collection fetch",
			url:    "https://app.parchment.io/api/organizations/org-1/projects/proj-1/docs",
			method: "GET",
			want:   Event{Kind: DocsFetched, OrganizationID: "org-1", ProjectID: "proj-1"},
		},
		{
			name:   "docs item fetch",
			url:    "https://app.parchment.io/api/organizations/org-1/projects/proj-1/docs/doc-9",
			method: "GET",
			want:   Event{Kind: DocsFetched, OrganizationID: "org-1", ProjectID: "proj-1", DocumentID: "doc-9"},
		},
		{
			name:   "docs item delete",
			url:    "https://app.parchment.io/api/organizations/org-1/projects/proj-1/docs/doc-9",
			method: "DELETE",
			want:   Event{Kind: DocumentDeleted, OrganizationID: "org-1", ProjectID: "proj-1", DocumentID: "doc-9"},
		},
		{
			name:   "docs collection create",
			url:    "https://app.parchment.io/api/organizations/org-1/projects/proj-1/docs",
			method: "POST",
			want:   Event{Kind: DocumentCreated, OrganizationID: "org-1", ProjectID: "proj-1"},
		},
		{
			name:   "lowercase method accepted",
			url:    "https://app.parchment.io/api/organizations/org-1/projects/proj-1/docs",
			method: "get",
			want:   Event{Kind: DocsFetched, OrganizationID: "org-1", ProjectID: "proj-1"},
		},
		{
			name:   "generic org project endpoint",
			url:    "https://app.parchment.io/api/organizations/org-2/projects/proj-7/members",
			method: "GET",
			want:   Event{Kind: ContextSignal, OrganizationID: "org-2", ProjectID: "proj-7"},
		},
		{
			name:   "delete on collection degrades to context signal",
			url:    "https://app.parchment.io/api/organizations/org-1/projects/proj-1/docs",
			method: "DELETE",
			want:   Event{Kind: ContextSignal, OrganizationID: "org-1", ProjectID: "proj-1"},
		},
		{
			name:   "missing marker token",
			url:    "https://example.com/api/organizations/org-1/projects/proj-1/docs",
			method: "GET",
			want:   Event{},
		},
		{
			name:   "case sensitive path segments",
			url:    "https://app.parchment.io/api/Organizations/org-1/Projects/proj-1/docs",
			method: "GET",
			want:   Event{},
		},
		{
			name:   "unrelated product url",
			url:    "https://app.parchment.io/settings/billing",
			method: "GET",
			want:   Event{},
		},
		{
			name:   "malformed url never throws",
			url:    "https://parchment\x7f .io/%zz",
			method: "GET",
			want:   Event{},
		},
		{
			name:   "empty url",
			url:    "",
			method: "GET",
			want:   Event{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.url, tt.method)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProjectPagePriorityOverDocsShape(t *testing.T) {
	// A URL matching both shapes resolves by registry order: project page wins.
	c := New("app.parchment.io", "parchment")
	got := c.Classify("https://app.parchment.io/project/p1/organizations/o1/projects/p2/docs", "GET")
	assert.Equal(t, ProjectNavigated, got.Kind)
	assert.Equal(t, "p1", got.ProjectID)
}

func TestCanonicalProjectURL(t *testing.T) {
	c := newTestClassifier()

	canonical, ok := c.CanonicalProjectURL("https://app.parchment.io/project/abc/docs?x=1#frag")
	assert.True(t, ok)
	assert.Equal(t, "https://app.parchment.io/project/abc", canonical)

	_, ok = c.CanonicalProjectURL("https://app.parchment.io/settings")
	assert.False(t, ok)
}

func TestIsProductHost(t *testing.T) {
	c := newTestClassifier()

	assert.True(t, c.IsProductHost("https://app.parchment.io/project/p1"))
	assert.False(t, c.IsProductHost("https://api.parchment.io/v1/docs"))
	assert.False(t, c.IsProductHost("https://example.com/"))
	assert.False(t, c.IsProductHost("://bad"))
}
