// Package commands is the sealrelay CLI command tree.
package commands
