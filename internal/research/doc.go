// Package research defines the value types, collaborator interfaces, and
// error taxonomy shared by the search, extraction, ranking, and capture
// stages of the research pipeline.
package research
