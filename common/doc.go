// Package common provides shared types used across the codebase.
// Frame and Retention are the only types passed between the broker,
// the client registry and sessions; keep them here to avoid import cycles.
package common
