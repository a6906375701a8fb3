/*
Package config loads kvmigrate settings from a YAML file, a .env file and
KVMIGRATE_* environment variables.

Sources apply in order, each overriding the previous one: built-in defaults,
the YAML file given with --config, the environment (after loading .env), and
finally command line flags that were set explicitly. Validate turns the
result into a Plan holding parsed endpoints, database indices and engine
options; it never dials a store.

	cfg, err := config.Load("kvmigrate.yaml")
	if err != nil {
		return err
	}
	if err := cfg.LoadEnv(""); err != nil {
		return err
	}
	plan, err := cfg.Validate()
*/
package config
