package policy

// Built-in policy names.
const (
	PolicyPlaintextSecrets = "plaintext-secrets"
	PolicyDeprecatedType   = "deprecated-type"
	PolicyChefVersion      = "pinned-chef-version"
	PolicyKitchenTransport = "kitchen-transport"
	PolicyKitchenOverrides = "kitchen-overrides-cookbooks"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		plaintextSecretsPolicy(),
		deprecatedTypePolicy(),
		chefVersionPolicy(),
		kitchenTransportPolicy(),
		kitchenOverridesPolicy(),
	}
}

// plaintextSecretsPolicy rejects data bag items that carry credentials
// without being marked encrypted.
func plaintextSecretsPolicy() Policy {
	return Policy{
		Name:        PolicyPlaintextSecrets,
		Description: "Data bag items holding credentials must be encrypted",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package solo.policies.secrets

import rego.v1

secret_key(key) if {
	regex.match("(?i)(password|passwd|secret|token|api_key|private_key)", key)
}

deny contains violation if {
	some bag, item in input.resource.properties.data_bags
	not item.encrypted
	some key, _ in item
	secret_key(key)
	violation := {
		"message": sprintf("data bag %s item %s stores %s in plain text, mark it encrypted", [bag, item.id, key]),
	}
}
`,
	}
}

// deprecatedTypePolicy flags the old resource type name.
func deprecatedTypePolicy() Policy {
	return Policy{
		Name:        PolicyDeprecatedType,
		Description: "Resources should use the current ChefSolo type name",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package solo.policies.types

import rego.v1

deny contains violation if {
	input.resource.type == "OS::Heat::ChefSolo"
	violation := {
		"message": "type OS::Heat::ChefSolo is deprecated, use Rackspace::Cloud::ChefSolo",
	}
}
`,
	}
}

// chefVersionPolicy flags resources that install whatever chef is latest.
func chefVersionPolicy() Policy {
	return Policy{
		Name:        PolicyChefVersion,
		Description: "Chef should be pinned with chef_version for repeatable runs",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package solo.policies.chef_version

import rego.v1

deny contains violation if {
	object.get(input.resource.properties, "chef_version", "") == ""
	violation := {
		"message": "chef_version is not set, the latest chef release will be installed",
	}
}
`,
	}
}

// kitchenTransportPolicy flags kitchens cloned over unencrypted transports.
func kitchenTransportPolicy() Policy {
	return Policy{
		Name:        PolicyKitchenTransport,
		Description: "Kitchen repositories should be cloned over https or ssh",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package solo.policies.kitchen

import rego.v1

deny contains violation if {
	kitchen := input.resource.properties.kitchen
	regex.match("^(http|git)://", kitchen)
	violation := {
		"message": sprintf("kitchen %s is cloned over an unencrypted transport", [kitchen]),
	}
}
`,
	}
}

// kitchenOverridesPolicy flags cookbook files that a kitchen makes unused.
func kitchenOverridesPolicy() Policy {
	return Policy{
		Name:        PolicyKitchenOverrides,
		Description: "Berksfile and Cheffile are ignored when a kitchen is cloned",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package solo.policies.kitchen_overrides

import rego.v1

cookbook_files := {"Berksfile", "Berksfile.lock", "Cheffile"}

deny contains violation if {
	input.resource.properties.kitchen
	some file in cookbook_files
	object.get(input.resource.properties, file, "") != ""
	violation := {
		"message": sprintf("%s is ignored because a kitchen repository is cloned", [file]),
	}
}
`,
	}
}
