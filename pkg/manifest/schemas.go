package manifest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages per-entity-type CUE schemas for definition
// validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers the schemas for the built-in entity
// types.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema("object-storage", builtinObjectStorageSchema)
	_ = sr.RegisterSchema("database", builtinDatabaseSchema)
	_ = sr.RegisterSchema("queue", builtinQueueSchema)
	_ = sr.RegisterSchema("function", builtinFunctionSchema)
	_ = sr.RegisterSchema("dns", builtinDNSSchema)
	_ = sr.RegisterSchema("webhook", builtinWebhookSchema)
}

// RegisterSchema registers a CUE schema for an entity type.
func (sr *SchemaRegistry) RegisterSchema(entityType, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", entityType, err)
	}

	sr.schemas[entityType] = val
	return nil
}

// GetSchema retrieves a schema by entity type.
func (sr *SchemaRegistry) GetSchema(entityType string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[entityType]
	return val, ok
}

// ValidateDefinition validates an entity definition against the schema
// registered for its type. Types without a schema pass.
func (sr *SchemaRegistry) ValidateDefinition(_ context.Context, entityType string, definition map[string]interface{}) error {
	schema, ok := sr.GetSchema(entityType)
	if !ok {
		return nil
	}

	dataVal := sr.ctx.Encode(definition)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Definition")).Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("definition does not match %s schema: %w", entityType, err)
	}

	return nil
}

// ListSchemas returns all registered entity types, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinObjectStorageSchema = `
// Definition schema for object storage buckets
#Definition: {
	// name is the bucket name
	name: string & =~"^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$"

	// region is the provider region slug
	region: string & =~"^[a-z0-9-]+$"

	// acl controls default object visibility
	acl?: "private" | "public-read"

	// versioning enables object version history
	versioning?: bool

	// apiTokenRef is the secret reference for provider credentials
	apiTokenRef: string

	...
}
`

const builtinDatabaseSchema = `
// Definition schema for managed database clusters
#Definition: {
	// name is the cluster name
	name: string & =~"^[a-z0-9][a-z0-9-]{1,62}$"

	// engine selects the database engine
	engine: "pg" | "mysql" | "redis" | "mongodb"

	// version is the engine version
	version?: string

	// region is the provider region slug
	region: string & =~"^[a-z0-9-]+$"

	// size is the node size slug
	size: string

	// nodes is the cluster node count
	nodes?: int & >=1 & <=10

	// apiTokenRef is the secret reference for provider credentials
	apiTokenRef: string

	...
}
`

const builtinQueueSchema = `
// Definition schema for message queues
#Definition: {
	// name is the queue name
	name: string & =~"^[a-zA-Z0-9_-]{1,80}$"

	// region is the provider region slug
	region: string & =~"^[a-z0-9-]+$"

	// fifo enables strict ordering
	fifo?: bool

	// visibilityTimeout is the per-message lease in seconds
	visibilityTimeout?: int & >=0 & <=43200

	// apiTokenRef is the secret reference for provider credentials
	apiTokenRef: string

	...
}
`

const builtinFunctionSchema = `
// Definition schema for serverless functions
#Definition: {
	// name is the function name
	name: string & =~"^[a-zA-Z0-9_-]{1,64}$"

	// runtime selects the execution runtime
	runtime: string & =~"^[a-z0-9.-]+$"

	// handler is the entrypoint symbol
	handler: string

	// sourceUrl points at the deployable artifact
	sourceUrl: string

	// memoryMB bounds function memory
	memoryMB?: int & >=64 & <=10240

	// timeoutSeconds bounds a single execution
	timeoutSeconds?: int & >=1 & <=900

	// env is the function environment
	env?: {[string]: string}

	// apiTokenRef is the secret reference for provider credentials
	apiTokenRef: string

	...
}
`

const builtinDNSSchema = `
// Definition schema for DNS zones
#Definition: {
	// zone is the fully qualified zone name
	zone: string & =~"^([a-z0-9]([a-z0-9-]*[a-z0-9])?\\.)+[a-z]{2,}$"

	// ttl is the default record TTL in seconds
	ttl?: int & >=30 & <=86400

	// apiTokenRef is the secret reference for provider credentials
	apiTokenRef: string

	...
}
`

const builtinWebhookSchema = `
// Definition schema for webhook-delegated entities
#Definition: {
	// endpoint is the base URL of the delegate service
	endpoint: string & =~"^https?://"

	// payload is forwarded verbatim to the delegate
	payload?: {...}

	// secretRef authenticates calls to the delegate
	secretRef?: string

	...
}
`
