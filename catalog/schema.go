package catalog

// EntryDocument models one designer-authored event type definition as it
// appears on disk. It is shared with the schema generator so tooling can
// produce a machine-readable document for validation and editor support.
type EntryDocument struct {
	Name         string `json:"name" jsonschema:"title=Event type name,pattern=^[a-z0-9_.\\-]+$,description=Stable identifier used on the wire and in logs"`
	TypeID       uint16 `json:"typeId" jsonschema:"title=Type id,minimum=1,description=Numeric event kind carried in every record"`
	Priority     string `json:"priority" jsonschema:"title=Default tier,enum=gameplay,enum=ai,enum=analytics,enum=telemetry,description=Tier the producers enqueue this type into"`
	ParallelSafe bool   `json:"parallelSafe,omitempty" jsonschema:"description=Handlers for this type may run on the worker pool"`
	Forward      bool   `json:"forward,omitempty" jsonschema:"description=The gateway forwards dispatched batches of this type to subscribers"`
	Payload      string `json:"payload,omitempty" jsonschema:"description=Human-readable layout of the inline payload bytes"`
	Description  string `json:"description,omitempty" jsonschema:"description=What the event means to consumers"`
}

// FileDefinitions represents the contents of config/events/definitions.json.
// The loader accepts either arrays or objects keyed by name; the schema
// models the canonical array format.
type FileDefinitions []EntryDocument
