package repository

// Schema definitions for the eligibility database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuleSets = `
CREATE TABLE IF NOT EXISTS rule_sets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaRuleVersions = `
CREATE TABLE IF NOT EXISTS rule_versions (
    id TEXT PRIMARY KEY,
    rule_set_id TEXT NOT NULL,
    effective_from TIMESTAMP NOT NULL,
    effective_to TIMESTAMP,
    published INTEGER NOT NULL DEFAULT 0,
    monotonic_version INTEGER NOT NULL DEFAULT 1,
    requirements TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_versions_set ON rule_versions(rule_set_id);
CREATE INDEX IF NOT EXISTS idx_rule_versions_published ON rule_versions(rule_set_id, published);
`

// Facts are append-only. Multiple rows per (case_id, key) are history,
// not duplicates; the newest row wins at evaluation time.
const schemaFacts = `
CREATE TABLE IF NOT EXISTS facts (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT,
    source TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_case ON facts(case_id);
CREATE INDEX IF NOT EXISTS idx_facts_case_key ON facts(case_id, key, created_at);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    rule_set_id TEXT NOT NULL,
    rule_version_id TEXT,
    outcome TEXT NOT NULL,
    confidence REAL NOT NULL,
    conflict_detected INTEGER NOT NULL,
    requires_review INTEGER NOT NULL,
    rule_result TEXT NOT NULL,
    ai_verdict TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_case ON decisions(case_id, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_decisions_review ON decisions(requires_review);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleSets,
		schemaRuleVersions,
		schemaFacts,
		schemaDecisions,
	}
}
