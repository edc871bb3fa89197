// Package config loads the callcached daemon configuration from the
// environment.
//
// Values may reference other variables with ${VAR}; a reference to an
// unset variable fails loading instead of silently expanding to "".
package config
