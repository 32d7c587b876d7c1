// Package config loads the harness configuration and resource templates.
//
// Configuration is read by Loader with precedence defaults < YAML file
// (solo.yaml, or the file given with SetConfigFile) < SOLO_* environment
// variables, where nested keys are joined with underscores:
//
//	SOLO_ENGINE_POLL_INTERVAL=10s
//	SOLO_CHEF_SOLO_PATH=/var/tmp/heat_chef
//
// Templates are YAML documents mapping resource names to a type and its
// properties. ParseTemplate checks the document shape against the CUE
// template schema held by SchemaRegistry; Validate checks each resource's
// properties against the schema registered for its type and Resolve turns
// them into typed chef.Properties.
package config
