// Package identity creates and loads the device's long-lived key material
// and signs request bodies with it.
package identity
