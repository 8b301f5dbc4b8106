// Package catalog discovers the tools of every configured backend and keeps
// them in an immutable Registry.
//
// Build runs discovery for all backends at once and drops the ones that
// fail. Each backend's Policy filters its catalog at discovery time and is
// checked again by Registry.Lookup on every access. Instructions renders the
// registry as the text block the gateway publishes to callers.
package catalog
