package ai

import (
	"embed"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var promptFS embed.FS

// Prompt templates, parsed once at package init and reused on every call.
var (
	relevanceTemplate   = mustParse("relevance")
	analysisTemplate    = mustParse("analysis")
	searchTermsTemplate = mustParse("search_terms")
)

func mustParse(name string) *template.Template {
	return template.Must(template.New(name + ".md").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFS, "prompts/"+name+".md"))
}

type relevanceData struct {
	Degree      string
	Citizenship string
	Keywords    []string
	Title       string
	Description string
}

type analysisData struct {
	Title       string
	Source      string
	Published   string
	Link        string
	Category    string
	Description string
	Content     string
	Keywords    []string
}

type searchTermsData struct {
	Query string
}
