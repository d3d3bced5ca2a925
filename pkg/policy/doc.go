// Package policy provides Open Policy Agent (OPA) integration for
// invocation governance.
//
// Policies are written in Rego and evaluated before an entity action is
// dispatched. The engine compiles each policy once and reuses the
// prepared query for every invocation.
//
// # Usage
//
// Creating a policy engine:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating an invocation:
//
//	input := &policy.Input{
//	    Entity: &policy.EntityInfo{
//	        Path:       "media/assets",
//	        Type:       "object-storage",
//	        Definition: def,
//	        State:      state,
//	    },
//	    Context: &policy.Context{
//	        Action:      "delete",
//	        Environment: "production",
//	    },
//	}
//
//	result, err := engine.EvaluateInvocation(ctx, input)
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("%s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// # Built-in Policies
//
// The following policies are loaded by default:
//
//  1. protected-delete - Blocks deletion of adopted entities without an
//     explicit allow-destroy argument
//  2. region-allowlist - Restricts entities to approved regions
//  3. secret-hygiene - Rejects plaintext credentials in definitions
//  4. path-naming - Enforces entity path conventions
//  5. production-safety - Gates destructive actions in production
//
// # Custom Policies
//
// Custom policies deny by adding to a `deny` set:
//
//	package custom.backup
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.entity.metadata.env == "production"
//	    not input.entity.metadata.backup
//	    violation := {
//	        "message": "production entities must declare a backup label",
//	        "severity": "error",
//	        "path": input.entity.path,
//	    }
//	}
//
// The loader reads .rego and .json files from configured paths and can
// watch them for changes, recompiling on write.
package policy
