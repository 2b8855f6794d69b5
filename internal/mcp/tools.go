package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/gepdash/internal/repo"
)

var geneStatuses = []string{"draft", "validated", "deprecated"}

var eventTypes = []string{"mutation", "repair", "validation", "creation", "deprecation", "execution"}

func pagingOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("skip", mcp.Description("Records to skip"), mcp.Min(0)),
		mcp.WithNumber("limit", mcp.Description("Page size (default and max 100)"), mcp.Min(1), mcp.Max(repo.MaxLimit)),
	}
}

func withID(kind string) mcp.ToolOption {
	return mcp.WithString("id", mcp.Required(), mcp.Description(kind+" id"))
}

func stringArray(name, desc string) mcp.ToolOption {
	return mcp.WithArray(name, mcp.Description(desc), mcp.Items(map[string]any{"type": "string"}))
}

var geneListToolDef = mcp.NewTool("gene_list", append([]mcp.ToolOption{
	mcp.WithDescription("List genes in insertion order, optionally filtered by status."),
	mcp.WithString("status", mcp.Description("Only genes with this status"), mcp.Enum(geneStatuses...)),
}, pagingOptions()...)...)

var geneGetToolDef = mcp.NewTool("gene_get",
	mcp.WithDescription("Get one gene by id."),
	withID("Gene"),
)

var geneCreateToolDef = mcp.NewTool("gene_create",
	mcp.WithDescription("Create a gene. Names are unique."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Unique name, at most 100 characters")),
	mcp.WithString("description", mcp.Description("Markdown description")),
	mcp.WithString("implementation", mcp.Description("Implementation source or notes")),
	mcp.WithString("prompt_template", mcp.Description("Prompt template")),
	mcp.WithString("status", mcp.Description("Initial status (default draft)"), mcp.Enum(geneStatuses...)),
	mcp.WithNumber("success_rate", mcp.Description("Fraction between 0 and 1"), mcp.Min(0), mcp.Max(1)),
	stringArray("context_tags", "Ordered context tags"),
)

var geneUpdateToolDef = mcp.NewTool("gene_update",
	mcp.WithDescription("Update the given fields of a gene. Omitted fields are unchanged."),
	withID("Gene"),
	mcp.WithString("name", mcp.Description("New unique name")),
	mcp.WithString("description", mcp.Description("Markdown description")),
	mcp.WithString("implementation", mcp.Description("Implementation source or notes")),
	mcp.WithString("prompt_template", mcp.Description("Prompt template")),
	mcp.WithString("status", mcp.Description("New status"), mcp.Enum(geneStatuses...)),
	mcp.WithNumber("success_rate", mcp.Description("Fraction between 0 and 1"), mcp.Min(0), mcp.Max(1)),
	stringArray("context_tags", "Replacement tag list"),
)

var geneDeleteToolDef = mcp.NewTool("gene_delete",
	mcp.WithDescription("Delete a gene. Capsules referencing it drop the reference."),
	withID("Gene"),
)

var capsuleListToolDef = mcp.NewTool("capsule_list", append([]mcp.ToolOption{
	mcp.WithDescription("List capsules in insertion order."),
}, pagingOptions()...)...)

var capsuleGetToolDef = mcp.NewTool("capsule_get",
	mcp.WithDescription("Get a capsule with its genes resolved. Unknown gene ids are listed under missing."),
	withID("Capsule"),
)

var capsuleCreateToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Create a capsule. Unknown gene ids are dropped by the service."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Unique name, at most 100 characters")),
	mcp.WithString("description", mcp.Description("Markdown description")),
	mcp.WithObject("input_schema", mcp.Description("Input JSON schema")),
	mcp.WithObject("output_schema", mcp.Description("Output JSON schema")),
	mcp.WithNumber("execution_time_ms", mcp.Description("Typical execution time"), mcp.Min(0)),
	stringArray("gene_ids", "Ordered gene ids"),
)

var capsuleDeleteToolDef = mcp.NewTool("capsule_delete",
	mcp.WithDescription("Delete a capsule and its events."),
	withID("Capsule"),
)

var eventListToolDef = mcp.NewTool("event_list", append([]mcp.ToolOption{
	mcp.WithDescription("List evolution events, optionally filtered by type or capsule."),
	mcp.WithString("event_type", mcp.Description("Only events of this type"), mcp.Enum(eventTypes...)),
	mcp.WithString("capsule_id", mcp.Description("Only events of this capsule")),
}, pagingOptions()...)...)

var eventCreateToolDef = mcp.NewTool("event_create",
	mcp.WithDescription("Record an evolution event. Events are immutable."),
	mcp.WithString("event_type", mcp.Required(), mcp.Enum(eventTypes...)),
	mcp.WithString("capsule_id", mcp.Description("Capsule the event belongs to")),
	mcp.WithString("description", mcp.Description("What happened")),
	mcp.WithObject("payload", mcp.Description("Free-form event data")),
)

var dashboardStatsToolDef = mcp.NewTool("dashboard_stats",
	mcp.WithDescription("Counts of genes, validated genes, capsules and events, plus the newest events."),
)
