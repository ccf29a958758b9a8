package mcp

import (
	"context"
	"fmt"
	"time"

	"docbridge/internal/trace"
)

// QueryTraceTool runs a Mangle query against the sync trace.
type QueryTraceTool struct {
	tracer *trace.Engine
}

func (t *QueryTraceTool) Name() string { return "query-trace" }
func (t *QueryTraceTool) Description() string {
	return `Query the sync trace with a Mangle atom.

Available predicates: response_event(Method, Url, Kind, Ts),
doc_fetch(Org, Proj, Ts), doc_created(Org, Proj, Ts),
doc_deleted(DocId, Ts), context_switch(Org, Proj, Ts),
project_change(Url, Ts), mutation_observed(Ts).

Example: "doc_deleted(DocId, Ts)." answers which documents were deleted
and when.

Returns: {results: [{Var: value}]}.`
}
func (t *QueryTraceTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query atom, e.g. doc_fetch(Org, Proj, Ts).",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryTraceTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.tracer.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

// QueryTraceWindowTool returns raw facts for a predicate within a time window.
type QueryTraceWindowTool struct {
	tracer *trace.Engine
}

func (t *QueryTraceWindowTool) Name() string { return "query-trace-window" }
func (t *QueryTraceWindowTool) Description() string {
	return `Return raw trace facts for one predicate within a time window.

after_ms/before_ms are unix milliseconds; omit either for an open bound.

Returns: {facts: [{predicate, args, timestamp}]}.`
}
func (t *QueryTraceWindowTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name, e.g. doc_fetch",
			},
			"after_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Lower bound, unix milliseconds (exclusive)",
			},
			"before_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Upper bound, unix milliseconds (exclusive)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryTraceWindowTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	var after, before time.Time
	if ms := getInt64Arg(args, "after_ms", 0); ms > 0 {
		after = time.UnixMilli(ms)
	}
	if ms := getInt64Arg(args, "before_ms", 0); ms > 0 {
		before = time.UnixMilli(ms)
	}

	facts := t.tracer.QueryTemporal(predicate, after, before)
	return map[string]interface{}{"facts": facts, "count": len(facts)}, nil
}
