package db

// SchemaSQL defines the job store tables. Jobs and parent jobs are stored
// schemaless (records mirror the jobstore structs); the unique index on
// (production_id, entity_id) is what makes job creation idempotent across
// concurrent runs.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS job SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS job_production ON job FIELDS production_id;
    DEFINE INDEX IF NOT EXISTS job_entity ON job FIELDS production_id, entity_id UNIQUE;

    DEFINE TABLE IF NOT EXISTS parent_job SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS parent_job_production ON parent_job FIELDS production_id;
`
