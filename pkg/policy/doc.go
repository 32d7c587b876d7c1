// Package policy checks template resources against Rego policies before
// they are applied.
//
// Each policy is a Rego module defining a deny set. Elements are either a
// message string or an object with a message and an optional severity
// overriding the policy default:
//
//	package site.policies.hosts
//
//	import rego.v1
//
//	deny contains violation if {
//		startswith(input.resource.properties.host, "10.99.")
//		violation := {"message": "the 10.99 range is reserved", "severity": "error"}
//	}
//
// The input document holds the operation and one resource with its name,
// type and redacted properties. The built-in policies flag credentials in
// unencrypted data bags, the deprecated type name, unpinned chef versions
// and kitchens that make cookbook files unused. Extra policies are loaded
// from .rego or .json files; a "# severity: error" header line sets the
// default severity of a .rego file.
//
// An error severity violation makes the result not allowed, which blocks
// apply when the policy mode is enforcing.
package policy
