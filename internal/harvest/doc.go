// Package harvest defines the domain types, capability interfaces and error
// taxonomy shared by the meet-results ingestion pipeline.
package harvest
