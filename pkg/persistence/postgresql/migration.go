package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				module VARCHAR(255) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				priority INT NOT NULL DEFAULT 0,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB,
				trigger_timing VARCHAR(20) NOT NULL DEFAULT 'all',
				watched_fields JSONB,
				conditions JSONB,
				run_once_per_record BOOLEAN NOT NULL DEFAULT FALSE,
				stop_on_first_match BOOLEAN NOT NULL DEFAULT FALSE,
				allow_manual_trigger BOOLEAN NOT NULL DEFAULT FALSE,
				max_executions_per_day INT,
				executions_today INT NOT NULL DEFAULT 0,
				executions_today_date VARCHAR(10) NOT NULL DEFAULT '',
				delay_seconds INT NOT NULL DEFAULT 0,
				schedule_cron VARCHAR(255) NOT NULL DEFAULT '',
				webhook_secret VARCHAR(255) NOT NULL DEFAULT '',
				execution_count INT NOT NULL DEFAULT 0,
				success_count INT NOT NULL DEFAULT 0,
				failure_count INT NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				next_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);
			CREATE INDEX idx_workflows_module ON workflows(module);
			CREATE INDEX idx_workflows_is_active ON workflows(is_active);
			CREATE INDEX idx_workflows_next_run_at ON workflows(next_run_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			-- Create workflow_steps table
			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				step_order INT NOT NULL DEFAULT 0,
				action_type VARCHAR(50) NOT NULL,
				action_config JSONB DEFAULT '{}',
				conditions JSONB,
				branch_id VARCHAR(255) NOT NULL DEFAULT '',
				is_parallel BOOLEAN NOT NULL DEFAULT FALSE,
				continue_on_error BOOLEAN NOT NULL DEFAULT FALSE,
				retry_count INT NOT NULL DEFAULT 0,
				retry_delay_seconds INT NOT NULL DEFAULT 0,
				on_success_goto VARCHAR(255),
				on_failure_goto VARCHAR(255),
				timeout_seconds INT NOT NULL DEFAULT 0,
				is_async BOOLEAN NOT NULL DEFAULT FALSE,
				is_disabled BOOLEAN NOT NULL DEFAULT FALSE,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_steps_workflow_id ON workflow_steps(workflow_id);
			CREATE INDEX idx_workflow_steps_order ON workflow_steps(workflow_id, step_order);

			-- Create workflow_executions table
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				trigger_type VARCHAR(50) NOT NULL,
				trigger_record_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_record_type VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL,
				queued_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				context_data JSONB DEFAULT '{}',
				steps_completed INT NOT NULL DEFAULT 0,
				steps_failed INT NOT NULL DEFAULT 0,
				steps_skipped INT NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				triggered_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);

			-- Create workflow_step_logs table
			CREATE TABLE workflow_step_logs (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				input_data JSONB DEFAULT '{}',
				output_data JSONB DEFAULT '{}',
				error_message TEXT NOT NULL DEFAULT '',
				error_trace TEXT NOT NULL DEFAULT '',
				retry_attempt INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_step_logs_execution_id ON workflow_step_logs(execution_id);
			CREATE INDEX idx_workflow_step_logs_step_id ON workflow_step_logs(step_id);
			CREATE INDEX idx_workflow_step_logs_status ON workflow_step_logs(status);

			-- Create workflow_run_history table. The primary key enforces
			-- run-once-per-record: inserts race through ON CONFLICT DO NOTHING.
			CREATE TABLE workflow_run_history (
				workflow_id VARCHAR(255) NOT NULL,
				record_id VARCHAR(255) NOT NULL,
				record_type VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, record_id, record_type, trigger_type)
			);

			CREATE INDEX idx_workflow_run_history_record ON workflow_run_history(record_id, record_type);
		`,
	}
}
