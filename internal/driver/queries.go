package driver

const (
	SaveAuditQuery = `
		MERGE (s:Session {session_id: $session_id})
		CREATE (a:Audit {
			session_id: $session_id,
			seq: $seq,
			finding_id: $finding_id,
			stage: $stage,
			input_summary: $input_summary,
			output_summary: $output_summary,
			timestamp: $timestamp
		})
		MERGE (s)-[:HAS_AUDIT]->(a)
		RETURN a.seq AS seq
	`

	AuditTrailQuery = `
		MATCH (s:Session {session_id: $session_id})-[:HAS_AUDIT]->(a:Audit)
		RETURN a.seq AS seq,
			a.finding_id AS finding_id,
			a.stage AS stage,
			a.input_summary AS input_summary,
			a.output_summary AS output_summary,
			a.timestamp AS timestamp
		ORDER BY a.seq ASC
	`

	SaveSessionResultQuery = `
		MERGE (s:Session {session_id: $session_id})
		SET s.report_id = $report_id,
			s.patient_id = $patient_id,
			s.status = $status,
			s.result = $result
		RETURN s.session_id AS session_id
	`

	SessionResultQuery = `
		MATCH (s:Session {session_id: $session_id})
		WHERE s.result IS NOT NULL
		RETURN s.result AS result
	`

	SaveTaskQuery = `
		MERGE (t:Task {task_id: $task_id})
		SET t.order_id = $order_id,
			t.procedure = $procedure,
			t.scheduled_date = $scheduled_date,
			t.reason = $reason,
			t.recommendation_id = $recommendation_id,
			t.patient_id = $patient_id,
			t.lineage_key = $lineage_key,
			t.status = $status,
			t.superseded_by = $superseded_by,
			t.created_at = $created_at
		WITH t
		MATCH (s:Session {session_id: $session_id})
		MERGE (s)-[:HAS_TASK]->(t)
		RETURN t.task_id AS task_id
	`

	OpenTasksQuery = `
		MATCH (t:Task {lineage_key: $lineage_key})
		WHERE t.status <> 'superseded'
		RETURN t.task_id AS task_id,
			t.order_id AS order_id,
			t.procedure AS procedure,
			t.scheduled_date AS scheduled_date,
			t.reason AS reason,
			t.recommendation_id AS recommendation_id,
			t.patient_id AS patient_id,
			t.lineage_key AS lineage_key,
			t.status AS status,
			t.created_at AS created_at
		ORDER BY t.created_at ASC
	`

	SupersedeTaskQuery = `
		MATCH (t:Task {task_id: $task_id})
		SET t.status = 'superseded',
			t.superseded_by = $superseded_by
		RETURN t.task_id AS task_id
	`
)
