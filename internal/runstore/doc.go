// Package runstore persists workflow run history through GORM so that
// GET /v1/runs/{runId} keeps working across restarts. It implements
// workflow.HistoryStore on the workflow_runs and workflow_run_steps tables
// created by internal/migration.
package runstore
