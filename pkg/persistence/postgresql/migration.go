package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions; triggers and steps are kept as ordered JSON documents
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT true,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'paused')),
				triggers JSONB NOT NULL DEFAULT '[]',
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_active ON workflows(enabled, status);

			CREATE TABLE execution_records (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(255) NOT NULL,
				trigger_context JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL CHECK (status IN ('started', 'completed', 'failed')),
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_execution_records_workflow ON execution_records(workflow_id, started_at DESC);

			CREATE TABLE workflow_metrics (
				workflow_id VARCHAR(255) PRIMARY KEY,
				success_count BIGINT NOT NULL DEFAULT 0,
				failure_count BIGINT NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE
			);
		`,
		2: `
			-- Durable delayed steps and scheduled trigger deduplication
			CREATE TABLE continuations (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(255) NOT NULL,
				steps JSONB NOT NULL,
				step_offset INTEGER NOT NULL DEFAULT 0,
				context JSONB NOT NULL DEFAULT '{}',
				due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_continuations_due_at ON continuations(due_at);

			CREATE TABLE scheduled_fires (
				fire_key VARCHAR(512) PRIMARY KEY,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		3: `
			-- Business records written by workflow steps
			CREATE TABLE IF NOT EXISTS jobs (
				id VARCHAR(255) PRIMARY KEY,
				client_id VARCHAR(255),
				title VARCHAR(255) NOT NULL,
				description TEXT,
				status VARCHAR(50) NOT NULL,
				scheduled_for TIMESTAMP WITH TIME ZONE,
				source VARCHAR(50),
				workflow_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS tasks (
				id VARCHAR(255) PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				description TEXT,
				status VARCHAR(50) NOT NULL,
				priority VARCHAR(50),
				assigned_to VARCHAR(255),
				job_id VARCHAR(255),
				client_id VARCHAR(255),
				due_date TIMESTAMP WITH TIME ZONE,
				source VARCHAR(50),
				workflow_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);

			CREATE TABLE IF NOT EXISTS communication_logs (
				id VARCHAR(255) PRIMARY KEY,
				channel VARCHAR(20) NOT NULL,
				direction VARCHAR(20) NOT NULL,
				recipient VARCHAR(255) NOT NULL,
				subject TEXT,
				body TEXT NOT NULL,
				external_id VARCHAR(255),
				status VARCHAR(50) NOT NULL,
				client_id VARCHAR(255),
				job_id VARCHAR(255),
				workflow_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
		4: `
			-- Claimed continuations stay queued until they are resumed
			ALTER TABLE continuations ADD COLUMN claimed_until TIMESTAMP WITH TIME ZONE;
		`,
	}
}
