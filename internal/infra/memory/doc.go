// Package memory implements the group and membership repositories in process
// memory. It backs the CLI's ephemeral mode and the service tests, and
// enforces the same uniqueness rules as the Postgres schema.
package memory
