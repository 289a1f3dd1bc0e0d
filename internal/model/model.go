// Package model defines the request/response records exchanged with the
// language model during one pipeline run. Every value is created fresh per
// query and discarded when the run's report is built; nothing is persisted.
package model

import (
	"fmt"
	"strings"

	"github.com/effective-security/gogentic/pkg/llmutils"
)

// Platform identifies an external platform reachable through an MCP
// tool-server.
type Platform string

const (
	PlatformServiceNow Platform = "servicenow"
	PlatformGTI        Platform = "gti"
	PlatformOpenSearch Platform = "opensearch"
)

// AllPlatforms lists the supported platforms in stable order.
func AllPlatforms() []Platform {
	return []Platform{PlatformServiceNow, PlatformGTI, PlatformOpenSearch}
}

// Display returns the human readable platform name used in result headings.
func (p Platform) Display() string {
	switch p {
	case PlatformServiceNow:
		return "ServiceNow"
	case PlatformGTI:
		return "Google Threat Intelligence"
	case PlatformOpenSearch:
		return "OpenSearch"
	}
	return string(p)
}

// GuardrailVerdict is the result of the guardrail check. The policy of what
// counts as sensitive lives entirely in the guardrail agent's instructions;
// this record only carries the answer.
type GuardrailVerdict struct {
	HasSensitiveInformation bool   `json:"has_sensitive_information" yaml:"has_sensitive_information" jsonschema:"title=has_sensitive_information,description=True if the query contains credentials or secrets that must not be processed."`
	Reasoning               string `json:"reasoning" yaml:"reasoning" jsonschema:"title=reasoning,description=Explanation of why the query was or was not flagged."`
}

// GetContent implements the chatmodel.ContentProvider contract.
func (v GuardrailVerdict) GetContent() string {
	return llmutils.ToJSON(v)
}

// ServiceDecision is the router's verdict about which platforms a query
// needs. The flags are independent; all false is legal and simply yields an
// empty fan-out.
type ServiceDecision struct {
	ServiceNow bool   `json:"servicenow" yaml:"servicenow" jsonschema:"title=servicenow,description=Whether ServiceNow should be queried."`
	GTI        bool   `json:"gti" yaml:"gti" jsonschema:"title=gti,description=Whether Google Threat Intelligence should be queried."`
	OpenSearch bool   `json:"opensearch" yaml:"opensearch" jsonschema:"title=opensearch,description=Whether OpenSearch should be queried."`
	Reasoning  string `json:"reasoning" yaml:"reasoning" jsonschema:"title=reasoning,description=Explanation of why each platform is or is not needed."`
}

// GetContent implements the chatmodel.ContentProvider contract.
func (d ServiceDecision) GetContent() string {
	return llmutils.ToJSON(d)
}

// IsSelected reports whether the decision selects the given platform.
func (d ServiceDecision) IsSelected(p Platform) bool {
	switch p {
	case PlatformServiceNow:
		return d.ServiceNow
	case PlatformGTI:
		return d.GTI
	case PlatformOpenSearch:
		return d.OpenSearch
	}
	return false
}

// Selected returns the selected platforms in stable order.
func (d ServiceDecision) Selected() []Platform {
	var sel []Platform
	for _, p := range AllPlatforms() {
		if d.IsSelected(p) {
			sel = append(sel, p)
		}
	}
	return sel
}

// PlatformResult is one platform's answer to a query. A platform that was
// not selected, or whose query failed, has no PlatformResult at all.
type PlatformResult struct {
	Query  string   `json:"query" yaml:"query"`
	Result string   `json:"result" yaml:"result"`
	Source Platform `json:"source" yaml:"source"`
}

// AggregatedResult is the final synthesis across all collected platform
// results. Built once at the end of the pipeline, never mutated.
type AggregatedResult struct {
	OriginalQuery   string   `json:"original_query" yaml:"original_query" jsonschema:"title=original_query,description=The original user query."`
	Summary         string   `json:"summary" yaml:"summary" jsonschema:"title=summary,description=Comprehensive summary addressing the original query."`
	Recommendations []string `json:"recommendations,omitempty" yaml:"recommendations,omitempty" jsonschema:"title=recommendations,description=Actionable recommendations based on the findings."`
}

// GetContent implements the chatmodel.ContentProvider contract.
func (r AggregatedResult) GetContent() string {
	return llmutils.ToJSON(r)
}

// String renders the result for the console transcript.
func (r AggregatedResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Summary: %s\n", r.Summary)
	if len(r.Recommendations) > 0 {
		buf.WriteString("Recommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&buf, "- %s\n", rec)
		}
	}
	return buf.String()
}

// VisualizationResult is the visualization-variant synthesis: a summary plus
// a suggested chart type and the code to render it.
type VisualizationResult struct {
	Summary           string `json:"summary" yaml:"summary" jsonschema:"title=summary,description=Natural language summary of the findings."`
	VisualizationType string `json:"visualization_type" yaml:"visualization_type" jsonschema:"title=visualization_type,description=Recommended visualization such as bar chart or timeline or heatmap."`
	CodeSnippet       string `json:"code_snippet,omitempty" yaml:"code_snippet,omitempty" jsonschema:"title=code_snippet,description=Code snippet that renders the suggested visualization."`
}

// GetContent implements the chatmodel.ContentProvider contract.
func (r VisualizationResult) GetContent() string {
	return llmutils.ToJSON(r)
}

// String renders the result for the console transcript.
func (r VisualizationResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Summary: %s\n", r.Summary)
	fmt.Fprintf(&buf, "Visualization Type: %s\n", r.VisualizationType)
	if r.CodeSnippet != "" {
		fmt.Fprintf(&buf, "Code Snippet:\n%s\n", r.CodeSnippet)
	}
	return buf.String()
}
