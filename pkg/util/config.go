package util

// FakeTenantID is the org id used when multitenancy is disabled.
const FakeTenantID = "single-tenant"

// PrefixConfig joins a config prefix and an option name.
func PrefixConfig(prefix string, option string) string {
	if len(prefix) > 0 {
		return prefix + "." + option
	}

	return option
}
